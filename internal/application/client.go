package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

// Client is the caller-side policy on top of the dispatcher: log in on
// demand and retry once with a fresh session when the device rejects it.
type Client struct {
	device     *domain.DeviceContext
	sessions   *SessionManager
	dispatcher *Dispatcher
}

// NewClient wires a session manager and dispatcher for one device and runs
// session setup.
func NewClient(device *domain.DeviceContext, transport ports.Transport, suite ports.CipherSuite, cfg SessionConfig) (*Client, error) {
	sessions := NewSessionManager(device, transport, suite, cfg)
	if err := sessions.Setup(); err != nil {
		return nil, err
	}

	return &Client{
		device:     device,
		sessions:   sessions,
		dispatcher: NewDispatcher(device, sessions, transport, cfg.Clock, cfg.Logger),
	}, nil
}

func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

func (c *Client) Login(ctx context.Context) error {
	return c.dispatcher.Login(ctx, c.device.Credentials)
}

// Call sends a token-bearing secure request. A non-zero device error_code is
// returned as *domain.DeviceError alongside the body.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (domain.ResponseBody, error) {
	if c.device.Token.Get() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.dispatcher.SendSecure(ctx, method, params, SecureOptions{UseToken: true})
	if err != nil {
		return nil, err
	}

	deviceErr := deviceError(method, body)
	if deviceErr == nil || !deviceErr.SessionRejected() {
		return body, errorOrNil(deviceErr)
	}

	c.sessions.Invalidate()
	if err := c.Login(ctx); err != nil {
		return nil, fmt.Errorf("renew rejected session: %w", err)
	}

	body, err = c.dispatcher.SendSecure(ctx, method, params, SecureOptions{UseToken: true})
	if err != nil {
		return nil, err
	}
	return body, errorOrNil(deviceError(method, body))
}

func deviceError(method string, body domain.ResponseBody) *domain.DeviceError {
	if code := body.ErrorCode(); code != 0 {
		return &domain.DeviceError{Method: method, Code: code}
	}
	return nil
}

func errorOrNil(err *domain.DeviceError) error {
	if err == nil {
		return nil
	}
	return err
}

// IsSessionRejected reports whether err carries a device error code that
// means the session or token is no longer valid.
func IsSessionRejected(err error) bool {
	var deviceErr *domain.DeviceError
	return errors.As(err, &deviceErr) && deviceErr.SessionRejected()
}
