// Package falclient runs jobs on the fal queue API as a single blocking call.
package falclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/httpclient"
	"github.com/autsav/backgroundRemover/internal/logging"
)

var (
	ErrMissingCredential = errors.New("fal credential is not configured")
	ErrTimeout           = errors.New("remote job timed out")
	ErrJobFailed         = errors.New("remote job failed")
)

const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	cancelTimeout = 5 * time.Second
)

// Options configures a Client. Zero durations fall back to package defaults.
type Options struct {
	QueueURL     string
	Credential   string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTP         httpclient.IClient
}

// Client submits a job, waits for it and fetches its output.
type Client struct {
	queueURL     string
	credential   string
	timeout      time.Duration
	pollInterval time.Duration
	cli          httpclient.IClient
	logger       *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.HTTP == nil {
		opts.HTTP = httpclient.NewHTTPClient()
	}
	return &Client{
		queueURL:     strings.TrimRight(opts.QueueURL, "/"),
		credential:   opts.Credential,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		cli:          opts.HTTP,
		logger:       logger.Named("falclient"),
	}
}

type submitResp struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type statusResp struct {
	Status        string          `json:"status"`
	QueuePosition *int            `json:"queue_position,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"`
}

// Run submits input to endpoint and blocks until the job completes, fails,
// the configured timeout elapses (ErrTimeout) or ctx is done. It returns the
// job output verbatim.
func (c *Client) Run(ctx context.Context, endpoint string, input any) (json.RawMessage, error) {
	if c.credential == "" {
		return nil, logging.NewOperationError("falclient.run", "", ErrMissingCredential)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	job := &submitResp{}
	err := c.cli.DoHTTPRequest(runCtx, &httpclient.RequestParam{
		RequestURI: c.queueURL + "/" + strings.Trim(endpoint, "/"),
		Method:     http.MethodPost,
		Header:     c.authHeader(),
		Body:       input,
		Response:   job,
	})
	if err != nil {
		return nil, c.wrap(ctx, runCtx, "falclient.submit", "", err)
	}
	if job.RequestID == "" {
		return nil, logging.NewOperationError("falclient.submit", "", errors.New("submit response missing request_id"))
	}
	c.fillURLs(endpoint, job)

	opLogger := logging.WithOperation(c.logger, "falclient.run", job.RequestID)
	opLogger.Debug("job submitted", zap.String("endpoint", endpoint))

	if err := c.wait(runCtx, job, opLogger); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.cancelJob(job, opLogger)
		}
		return nil, c.wrap(ctx, runCtx, "falclient.wait", job.RequestID, err)
	}

	var out []byte
	err = c.cli.DoHTTPRequest(runCtx, &httpclient.RequestParam{
		RequestURI: job.ResponseURL,
		Method:     http.MethodGet,
		Header:     c.authHeader(),
		Response:   &out,
	})
	if err != nil {
		if ctx.Err() == nil && runCtx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrJobFailed, err)
		}
		return nil, c.wrap(ctx, runCtx, "falclient.result", job.RequestID, err)
	}

	opLogger.Debug("job completed", zap.Int("bytes", len(out)))
	return out, nil
}

func (c *Client) wait(ctx context.Context, job *submitResp, logger *zap.Logger) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status := &statusResp{}
		err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
			RequestURI: job.StatusURL,
			Method:     http.MethodGet,
			Header:     c.authHeader(),
			Response:   status,
		})
		if err != nil {
			return err
		}

		if hasError(status.Error) {
			return fmt.Errorf("%w: %s", ErrJobFailed, string(status.Error))
		}
		if status.Status == StatusCompleted {
			return nil
		}
		if status.QueuePosition != nil {
			logger.Debug("job queued", zap.Int("queue_position", *status.QueuePosition))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) cancelJob(job *submitResp, logger *zap.Logger) {
	if job.CancelURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	err := c.cli.DoHTTPRequest(ctx, &httpclient.RequestParam{
		RequestURI: job.CancelURL,
		Method:     http.MethodPut,
		Header:     c.authHeader(),
	})
	if err != nil {
		logger.Warn("failed to cancel timed out job", zap.Error(err))
	}
}

// wrap converts the run deadline into ErrTimeout while leaving caller cancellation as is.
func (c *Client) wrap(parent, runCtx context.Context, operation, requestID string, err error) error {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (c *Client) authHeader() map[string]string {
	return map[string]string{"Authorization": "Key " + c.credential}
}

// fillURLs derives queue URLs when the submit response omits them. Status and
// result live under the owner/app prefix, not the full endpoint path.
func (c *Client) fillURLs(endpoint string, job *submitResp) {
	base := c.queueURL + "/" + appID(endpoint) + "/requests/" + job.RequestID
	if job.StatusURL == "" {
		job.StatusURL = base + "/status"
	}
	if job.ResponseURL == "" {
		job.ResponseURL = base
	}
	if job.CancelURL == "" {
		job.CancelURL = base + "/cancel"
	}
}

func appID(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != `""`
}
