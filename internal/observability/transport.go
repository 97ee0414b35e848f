package observability

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type loggingRoundTripper struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

// NewRequestLogger wraps next so every device exchange is logged at debug
// level. The query string is never logged since it carries the login token.
func NewRequestLogger(next http.RoundTripper, logger zerolog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingRoundTripper{next: next, logger: logger}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	if err != nil {
		t.logger.Warn().
			Str("method", req.Method).
			Str("host", req.URL.Host).
			Str("path", req.URL.Path).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("device_request")
		return nil, err
	}

	event := t.logger.Debug()
	if resp.StatusCode >= 500 {
		event = t.logger.Warn()
	}

	event.
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("device_request")

	return resp, nil
}
