package application

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
	"github.com/rs/zerolog"
)

const loginMethod = "login_device"

type SecureOptions struct {
	UseToken       bool
	ForceHandshake bool
}

// Dispatcher builds request envelopes and routes them over the plain or the
// secure passthrough channel.
type Dispatcher struct {
	device    *domain.DeviceContext
	sessions  *SessionManager
	transport ports.Transport
	clock     ports.Clock
	logger    zerolog.Logger
}

func NewDispatcher(device *domain.DeviceContext, sessions *SessionManager, transport ports.Transport, clock ports.Clock, logger zerolog.Logger) *Dispatcher {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Dispatcher{
		device:    device,
		sessions:  sessions,
		transport: transport,
		clock:     clock,
		logger:    logger.With().Str("device", string(device.ID)).Logger(),
	}
}

// Login forces a fresh handshake and stores the token returned by
// login_device on the device context.
func (d *Dispatcher) Login(ctx context.Context, creds domain.Credentials) error {
	body, err := d.SendSecure(ctx, loginMethod, map[string]any{
		"username": creds.Username,
		"password": creds.Password,
	}, SecureOptions{ForceHandshake: true})
	if err != nil {
		return fmt.Errorf("%s: %w", loginMethod, err)
	}

	var payload struct {
		ErrorCode int `json:"error_code"`
		Result    *struct {
			Token string `json:"token"`
		} `json:"result"`
	}
	if err := body.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s response: %w", loginMethod, err)
	}
	if payload.Result == nil || payload.Result.Token == "" {
		return &domain.LoginError{ErrorCode: payload.ErrorCode}
	}

	d.device.Token.Set(payload.Result.Token)
	d.logger.Info().Msg("logged in")
	return nil
}

func (d *Dispatcher) SendPlain(ctx context.Context, method string, params map[string]any, includeCookie bool) (domain.ResponseBody, error) {
	payload, err := json.Marshal(d.envelope(method, params, false))
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	cookie := ""
	if includeCookie {
		if session := d.sessions.Session(); session != nil {
			cookie = session.Cookie
		}
	}

	resp, err := d.transport.PostPlain(ctx, payload, cookie)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	if err := checkStatus("post plain request", resp); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("decode %s response: invalid json", method)
	}

	return domain.ResponseBody(resp.Body), nil
}

func (d *Dispatcher) SendSecure(ctx context.Context, method string, params map[string]any, opts SecureOptions) (domain.ResponseBody, error) {
	token := ""
	if opts.UseToken {
		token = d.device.Token.Get()
		if token == "" {
			return nil, fmt.Errorf("send %s: %w", method, domain.ErrLoginRequired)
		}
	}

	session, err := d.sessions.Acquire(ctx, opts.ForceHandshake)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Cipher == nil {
		return nil, fmt.Errorf("send %s: %w", method, domain.ErrCipherNotEstablished)
	}

	inner, err := json.Marshal(d.envelope(method, params, true))
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	ciphertext, err := session.Cipher.Encrypt(inner)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s request: %w", method, err)
	}

	outer, err := json.Marshal(domain.SecurePassthroughEnvelope{
		Method: domain.SecurePassthroughMethod,
		Params: domain.SecurePassthroughParams{Request: base64.StdEncoding.EncodeToString(ciphertext)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s passthrough: %w", method, err)
	}

	d.logger.Debug().Str("method", method).Bool("token", opts.UseToken).Msg("sending secure request")

	resp, err := d.transport.PostSecure(ctx, token, outer, session.Cookie)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	if err := checkStatus("post secure request", resp); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	return unwrapResponse(session.Cipher, method, resp.Body)
}

func (d *Dispatcher) envelope(method string, params map[string]any, secure bool) domain.RequestEnvelope {
	if params == nil {
		params = map[string]any{}
	}

	envelope := domain.RequestEnvelope{
		Method:          method,
		Params:          params,
		RequestTimeMils: d.clock.Now().UnixMilli(),
	}
	if secure {
		envelope.TerminalUUID = d.device.TerminalUUID
	}
	return envelope
}

// unwrapResponse decrypts result.response when present and returns the body
// unchanged otherwise.
func unwrapResponse(codec domain.Codec, method string, body []byte) (domain.ResponseBody, error) {
	var outer struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	var result struct {
		Response string `json:"response"`
	}
	if len(outer.Result) == 0 || json.Unmarshal(outer.Result, &result) != nil || result.Response == "" {
		return domain.ResponseBody(body), nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(result.Response)
	if err != nil {
		return nil, fmt.Errorf("decode %s ciphertext: %w", method, err)
	}
	plaintext, err := codec.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s response: %w", method, err)
	}
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("decode %s response: %w", method, errors.New("decrypted body is not json"))
	}

	return domain.ResponseBody(plaintext), nil
}

func checkStatus(op string, resp ports.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return &domain.TransportError{Op: op, Status: resp.StatusCode}
}
