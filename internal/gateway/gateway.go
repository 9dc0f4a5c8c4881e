// Package gateway is the server-side boundary that holds the remote API
// credential, stages uploaded images on object storage and invokes the
// background removal model.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/datauri"
	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/logging"
	"github.com/autsav/backgroundRemover/internal/storage"
)

var (
	// ErrRemoveBackground is the single failure surfaced to callers. The
	// underlying cause stays reachable through errors.Is/As.
	ErrRemoveBackground  = errors.New("background removal failed")
	ErrMissingCredential = errors.New("remote API credential is not configured")
	ErrContractViolation = errors.New("model response missing image.url")
)

// Settings are the fixed per-process gateway parameters.
type Settings struct {
	Credential          string
	Endpoint            string
	Model               string
	OperatingResolution string
	OutputFormat        string
}

// ModelRunner invokes a remote model and blocks until its output is available.
type ModelRunner interface {
	Run(ctx context.Context, endpoint string, input any) (json.RawMessage, error)
}

// Gateway implements imageprocessor.Client against remote storage and a remote model.
type Gateway struct {
	settings Settings
	uploader storage.Uploader
	model    ModelRunner
	logger   *zap.Logger
}

var _ imageprocessor.Client = (*Gateway)(nil)

func New(settings Settings, uploader storage.Uploader, model ModelRunner, logger *zap.Logger) *Gateway {
	return &Gateway{
		settings: settings,
		uploader: uploader,
		model:    model,
		logger:   logger.Named("gateway"),
	}
}

// RemoveBackground decodes imageData, uploads it and runs the model on the
// uploaded URL. Any failure, including a result without an image URL, is
// reported as ErrRemoveBackground.
func (g *Gateway) RemoveBackground(ctx context.Context, imageData string) (*imageprocessor.Result, error) {
	ctx, requestID := logging.EnsureRequestID(ctx)
	opLogger := logging.WithOperation(g.logger, "gateway.remove_background", requestID)
	start := time.Now()

	res, err := g.removeBackground(ctx, imageData)
	if err != nil {
		opLogger.Error("background removal failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, logging.NewOperationError("gateway.remove_background", requestID, fmt.Errorf("%w: %w", ErrRemoveBackground, err))
	}

	opLogger.Info("background removed",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("content_type", res.Image.ContentType),
		zap.Int("width", res.Image.Width),
		zap.Int("height", res.Image.Height),
	)
	return res, nil
}

func (g *Gateway) removeBackground(ctx context.Context, imageData string) (*imageprocessor.Result, error) {
	if g.settings.Credential == "" {
		return nil, ErrMissingCredential
	}

	decoded, err := datauri.Parse(imageData)
	if err != nil {
		return nil, err
	}

	imageURL, err := g.uploader.Upload(ctx, storage.Object{
		Name:        uuid.NewString() + datauri.Extension(decoded.MediaType),
		ContentType: decoded.MediaType,
		Data:        decoded.Data,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.model.Run(ctx, g.settings.Endpoint, imageprocessor.Input{
		ImageURL:            imageURL,
		Model:               g.settings.Model,
		OperatingResolution: g.settings.OperatingResolution,
		OutputFormat:        g.settings.OutputFormat,
	})
	if err != nil {
		return nil, err
	}

	res, err := imageprocessor.ParseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}
	if res.Image.URL == "" {
		return nil, ErrContractViolation
	}
	return res, nil
}
