package httpclient

import (
	"context"
	"net/http"
)

// Response carries the raw outcome of an HTTP exchange. The decoded
// payload, when requested, lands in the result argument of the call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// HTTPClient is the outbound HTTP surface shared by the market data
// and narration repositories.
type HTTPClient interface {
	Get(ctx context.Context, endpoint string, queryParams map[string]string, headers map[string]string, result interface{}) (*Response, error)
	Post(ctx context.Context, endpoint string, body interface{}, headers map[string]string, result interface{}) (*Response, error)
}
