package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/datauri"
	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/logging"
	"github.com/autsav/backgroundRemover/internal/repository"
)

const auditTimeout = 5 * time.Second

// ProcessingRecorder defines the persistence operations needed by the use case.
type ProcessingRecorder interface {
	SaveLog(ctx context.Context, log *repository.ProcessingLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// NopRecorder discards audit records. It is used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) SaveLog(context.Context, *repository.ProcessingLog) error { return nil }

func (NopRecorder) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{}, nil
}

// RemovalUseCase audits every background removal performed by the wrapped processor.
type RemovalUseCase struct {
	processor imageprocessor.Client
	recorder  ProcessingRecorder
	model     string
	logger    *zap.Logger
	now       func() time.Time
}

var _ imageprocessor.Client = (*RemovalUseCase)(nil)

// NewRemovalUseCase constructs a new use case instance.
func NewRemovalUseCase(processor imageprocessor.Client, recorder ProcessingRecorder, model string, logger *zap.Logger) *RemovalUseCase {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &RemovalUseCase{
		processor: processor,
		recorder:  recorder,
		model:     model,
		logger:    logger.Named("removal_usecase"),
		now:       time.Now,
	}
}

// RemoveBackground delegates to the processor and records the outcome.
// Recording failures are logged and never change the returned result.
func (uc *RemovalUseCase) RemoveBackground(ctx context.Context, imageData string) (*imageprocessor.Result, error) {
	ctx, requestID := logging.EnsureRequestID(ctx)
	start := uc.now()

	res, err := uc.processor.RemoveBackground(ctx, imageData)

	entry := &repository.ProcessingLog{
		RequestID: requestID,
		SessionID: logging.SessionIDFrom(ctx),
		Model:     uc.model,
		LatencyMs: uc.now().Sub(start).Milliseconds(),
		CreatedAt: start.UTC(),
	}
	if decoded, parseErr := datauri.Parse(imageData); parseErr == nil {
		entry.InputType = decoded.MediaType
		entry.InputBytes = int64(len(decoded.Data))
	}
	if err != nil {
		entry.Status = repository.StatusFailed
		entry.ErrorDetail = err.Error()
	} else {
		entry.Status = repository.StatusSucceeded
		entry.OutputType = res.Image.ContentType
		entry.Width = res.Image.Width
		entry.Height = res.Image.Height
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if saveErr := uc.recorder.SaveLog(auditCtx, entry); saveErr != nil {
		logging.WithOperation(uc.logger, "usecase.save_log", requestID).Warn("failed to persist processing log", zap.Error(saveErr))
	}

	return res, err
}
