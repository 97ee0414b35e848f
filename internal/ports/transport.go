package ports

import (
	"context"
	"net/http"
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SetCookie returns the first Set-Cookie header value verbatim.
func (r Response) SetCookie() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Set-Cookie")
}

// Transport performs the raw HTTP exchanges with one device. Implementations
// never retry; every failure is returned to the caller.
type Transport interface {
	PostPlain(ctx context.Context, body []byte, cookie string) (Response, error)
	PostHandshake(ctx context.Context, path string, payload []byte, cookie string) (Response, error)
	PostSecure(ctx context.Context, token string, body []byte, cookie string) (Response, error)
}
