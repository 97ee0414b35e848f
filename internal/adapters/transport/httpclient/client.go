package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

const (
	appPath                = "/app"
	maxDeviceResponseBytes = 1 << 20
	defaultRequestTimeout  = 10 * time.Second
)

// Client posts to the /app endpoints of a single device.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

var _ ports.Transport = (*Client)(nil)

func NewClient(address string, httpClient *http.Client, requestTimeout time.Duration) (*Client, error) {
	baseURL, err := BuildBaseURL(address)
	if err != nil {
		return nil, err
	}

	return &Client{BaseURL: baseURL, HTTPClient: httpClient, RequestTimeout: requestTimeout}, nil
}

// BuildBaseURL turns "192.168.1.20" or "http://192.168.1.20:8080" into the
// device /app endpoint.
func BuildBaseURL(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("device address is required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	parsed, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse device address: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("device address must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("device address host is required")
	}

	parsed.Path = appPath
	parsed.RawQuery = ""
	return parsed.String(), nil
}

func (c *Client) PostPlain(ctx context.Context, body []byte, cookie string) (ports.Response, error) {
	return c.post(ctx, "post plain request", c.BaseURL, "application/json", body, cookie)
}

func (c *Client) PostHandshake(ctx context.Context, path string, payload []byte, cookie string) (ports.Response, error) {
	return c.post(ctx, "post "+strings.TrimPrefix(path, "/"), c.BaseURL+path, "application/octet-stream", payload, cookie)
}

func (c *Client) PostSecure(ctx context.Context, token string, body []byte, cookie string) (ports.Response, error) {
	endpoint := c.BaseURL
	if token != "" {
		endpoint += "?token=" + url.QueryEscape(token)
	}
	return c.post(ctx, "post secure request", endpoint, "application/json", body, cookie)
}

func (c *Client) post(ctx context.Context, op string, endpoint string, contentType string, body []byte, cookie string) (ports.Response, error) {
	if c.BaseURL == "" {
		return ports.Response{}, &domain.TransportError{Op: op, Err: errors.New("device base url is required")}
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Response{}, &domain.TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return ports.Response{}, &domain.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDeviceResponseBytes))
	if err != nil {
		return ports.Response{}, &domain.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	return ports.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return context.WithTimeout(ctx, requestTimeout)
}
