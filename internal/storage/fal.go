package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/httpclient"
	"github.com/autsav/backgroundRemover/internal/logging"
)

// FalUploader uses the two-step fal storage API: initiate returns a signed
// upload URL and the final file URL, then the bytes are PUT to the former.
type FalUploader struct {
	baseURL    string
	credential string
	cli        httpclient.IClient
	logger     *zap.Logger
}

// NewFalUploader builds an uploader against baseURL (e.g. https://rest.alpha.fal.ai).
func NewFalUploader(baseURL, credential string, cli httpclient.IClient, logger *zap.Logger) *FalUploader {
	if cli == nil {
		cli = httpclient.NewHTTPClient()
	}
	return &FalUploader{
		baseURL:    baseURL,
		credential: credential,
		cli:        cli,
		logger:     logger.Named("fal_storage"),
	}
}

type initiateUploadReq struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type initiateUploadResp struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

func (f *FalUploader) Upload(ctx context.Context, obj Object) (string, error) {
	if f.credential == "" {
		return "", logging.NewOperationError("storage.fal_upload", "", ErrMissingCredential)
	}

	initResp := &initiateUploadResp{}
	err := f.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: f.baseURL + "/storage/upload/initiate",
		Method:     http.MethodPost,
		Header:     map[string]string{"Authorization": "Key " + f.credential},
		Body:       initiateUploadReq{ContentType: obj.ContentType, FileName: obj.Name},
		Response:   initResp,
	})
	if err != nil {
		return "", logging.NewOperationError("storage.fal_initiate", "", err)
	}
	if initResp.UploadURL == "" || initResp.FileURL == "" {
		return "", logging.NewOperationError("storage.fal_initiate", "", errors.New("initiate response missing upload or file url"))
	}

	err = f.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: initResp.UploadURL,
		Method:     http.MethodPut,
		Header:     map[string]string{"Content-Type": obj.ContentType},
		Body:       obj.reader(),
	})
	if err != nil {
		return "", logging.NewOperationError("storage.fal_put", "", fmt.Errorf("put %s: %w", obj.Name, err))
	}

	f.logger.Debug("uploaded object", zap.String("name", obj.Name), zap.Int("bytes", len(obj.Data)))
	return initResp.FileURL, nil
}
