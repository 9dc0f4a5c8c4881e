package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPClient is the net/http backed IClient.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient returns an IClient with a 30s overall timeout.
func NewHTTPClient() IClient {
	return &HTTPClient{client: &http.Client{Timeout: defaultTimeout}}
}

// NewHTTPClientWith wraps an existing *http.Client.
func NewHTTPClientWith(client *http.Client) IClient {
	if client == nil {
		return NewHTTPClient()
	}
	return &HTTPClient{client: client}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	body, isJSON, err := encodeBody(requestParam.Body)
	if err != nil {
		return err
	}

	method := requestParam.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, requestParam.RequestURI, body)
	if err != nil {
		return err
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	requestParam.ResponseHeader = resp.Header.Clone()
	return decodeResponse(resp.Body, requestParam.Response)
}

func encodeBody(body interface{}) (io.Reader, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case io.Reader:
		return b, false, nil
	case []byte:
		return bytes.NewReader(b), false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, err
		}
		return bytes.NewReader(data), true, nil
	}
}

func decodeResponse(r io.Reader, target interface{}) error {
	if target == nil {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	if w, ok := target.(io.Writer); ok {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("stream response body: %w", err)
		}
		return nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if raw, ok := target.(*[]byte); ok {
		*raw = data
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
