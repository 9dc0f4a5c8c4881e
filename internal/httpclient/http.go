package httpclient

import (
	"context"
	"net/http"
	"time"
)

// IClient performs a single outbound HTTP exchange described by a RequestParam.
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes one request and where its response goes.
//
// Body may be nil, an io.Reader, a []byte or any JSON-marshalable value.
// Response may be nil (body discarded), a *[]byte (raw body), an io.Writer
// (body streamed) or a JSON target. ResponseHeader is filled after a
// successful exchange.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	ResponseHeader http.Header
	Timeout        time.Duration
}
