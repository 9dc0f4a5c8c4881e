package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/httpclient"
	"github.com/autsav/backgroundRemover/internal/logging"
)

// DownloadFilename is the name every processed image is saved under.
const DownloadFilename = "processed-image.png"

// Blob is a fetched image held in a temporary file until Release.
type Blob struct {
	ContentType string
	Size        int64

	file    *os.File
	once    sync.Once
	release error
}

// Reader rewinds the blob and returns it for reading.
func (b *Blob) Reader() (io.Reader, error) {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return b.file, nil
}

// Release closes and removes the backing file. Safe to call more than once.
func (b *Blob) Release() error {
	b.once.Do(func() {
		name := b.file.Name()
		closeErr := b.file.Close()
		removeErr := os.Remove(name)
		if errors.Is(removeErr, os.ErrNotExist) {
			removeErr = nil
		}
		b.release = errors.Join(closeErr, removeErr)
	})
	return b.release
}

// Fetcher retrieves a processed image by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Blob, error)
}

// HTTPFetcher streams remote images into temporary files.
type HTTPFetcher struct {
	client  httpclient.IClient
	tempDir string
}

// NewHTTPFetcher returns a fetcher using cli, or a default client when nil.
// An empty tempDir means os.TempDir.
func NewHTTPFetcher(cli httpclient.IClient, tempDir string) *HTTPFetcher {
	if cli == nil {
		cli = httpclient.NewHTTPClient()
	}
	return &HTTPFetcher{client: cli, tempDir: tempDir}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Blob, error) {
	file, err := os.CreateTemp(f.tempDir, "processed-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	blob := &Blob{file: file}

	param := &httpclient.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   file,
	}
	if err := f.client.DoHTTPRequest(ctx, param); err != nil {
		_ = blob.Release()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = blob.Release()
		return nil, err
	}
	blob.Size = info.Size()
	blob.ContentType = param.ResponseHeader.Get("Content-Type")
	return blob, nil
}

// Saver hands a finished file to the user.
type Saver interface {
	Save(filename, contentType string, size int64, r io.Reader) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(filename, contentType string, size int64, r io.Reader) error

func (f SaverFunc) Save(filename, contentType string, size int64, r io.Reader) error {
	return f(filename, contentType, size, r)
}

// DownloadProcessed fetches the processed image and saves it once under
// DownloadFilename. The temporary copy is released on every path.
func (c *Controller) DownloadProcessed(ctx context.Context, saver Saver) error {
	c.mu.Lock()
	st, ok := c.state.(Processed)
	c.mu.Unlock()
	if !ok {
		return ErrNoResult
	}

	opLogger := logging.WithOperation(c.logger, "controller.download", logging.RequestIDFrom(ctx))

	blob, err := c.fetcher.Fetch(ctx, st.URL())
	if err != nil {
		opLogger.Error("error fetching processed image", zap.Error(err))
		return logging.NewOperationError("controller.download", logging.RequestIDFrom(ctx), err)
	}
	defer func() {
		if err := blob.Release(); err != nil {
			opLogger.Warn("failed to release temp file", zap.Error(err))
		}
	}()

	r, err := blob.Reader()
	if err != nil {
		return logging.NewOperationError("controller.download", logging.RequestIDFrom(ctx), err)
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = st.Result.Image.ContentType
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return saver.Save(DownloadFilename, contentType, blob.Size, r)
}
