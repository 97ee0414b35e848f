package application

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bnema/klapctl/internal/adapters/klap"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

// fakeDevice is an in-memory KLAP device speaking through ports.Transport.
type fakeDevice struct {
	suite   klap.Suite
	creds   domain.Credentials
	timeout int64
	token   string

	// cookieFor builds the Set-Cookie value for the n-th handshake.
	cookieFor func(n int) string
	// reply overrides the answer for a method; returning encrypt=false sends
	// the body in the clear.
	reply func(method string, call int) (body map[string]any, encrypt bool)
	// handshakeGate, when set, blocks handshake1 until closed.
	handshakeGate  chan struct{}
	handshakeEnter chan struct{}
	// handshake2Status and handshake2Body override a successful handshake2.
	handshake2Status int
	handshake2Body   []byte

	mu              sync.Mutex
	handshake1Calls int
	handshake2Calls int
	loginCalls      int
	methodCalls     map[string]int
	requests        []domain.RequestEnvelope
	plainRequests   []domain.RequestEnvelope
	tokens          []string
	cookies         []string
	seeds           [][]byte
	cookie          string
	material        ports.HandshakeMaterial
	codec           domain.Codec
}

var _ ports.Transport = (*fakeDevice)(nil)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		suite:   klap.NewSuite(),
		creds:   domain.Credentials{Username: "u", Password: "p"},
		timeout: 86400,
		token:   "T",
		cookieFor: func(n int) string {
			return fmt.Sprintf("TP_SESSIONID=sess-%d;TIMEOUT=86400", n)
		},
		methodCalls: map[string]int{},
	}
}

func (d *fakeDevice) PostHandshake(ctx context.Context, path string, payload []byte, cookie string) (ports.Response, error) {
	if path == "/handshake1" && d.handshakeGate != nil {
		if d.handshakeEnter != nil {
			d.handshakeEnter <- struct{}{}
		}
		<-d.handshakeGate
	}
	if err := ctx.Err(); err != nil {
		return ports.Response{}, &domain.TransportError{Op: "post " + path, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch path {
	case "/handshake1":
		d.handshake1Calls++
		d.seeds = append(d.seeds, append([]byte(nil), payload...))
		remote := bytes.Repeat([]byte{byte(d.handshake1Calls)}, domain.HandshakeSeedLength)
		d.material = ports.HandshakeMaterial{
			LocalSeed:  append([]byte(nil), payload...),
			RemoteSeed: remote,
			AuthHash:   d.suite.AuthHash(d.creds),
		}
		codec, err := d.suite.DeriveCodec(d.material)
		if err != nil {
			return ports.Response{StatusCode: http.StatusInternalServerError}, nil
		}
		d.codec = codec
		d.cookie = d.cookieFor(d.handshake1Calls)

		header := http.Header{}
		header.Set("Set-Cookie", d.cookie)
		body := append(append([]byte(nil), remote...), d.suite.ServerProof(d.material)...)
		return ports.Response{StatusCode: http.StatusOK, Header: header, Body: body}, nil
	case "/handshake2":
		d.handshake2Calls++
		if cookie != d.cookie || !bytes.Equal(payload, d.suite.ClientProof(d.material)) {
			return ports.Response{StatusCode: http.StatusForbidden}, nil
		}
		if d.handshake2Status != 0 {
			return ports.Response{StatusCode: d.handshake2Status}, nil
		}
		return ports.Response{StatusCode: http.StatusOK, Body: d.handshake2Body}, nil
	default:
		return ports.Response{StatusCode: http.StatusNotFound}, nil
	}
}

func (d *fakeDevice) PostPlain(ctx context.Context, body []byte, cookie string) (ports.Response, error) {
	if err := ctx.Err(); err != nil {
		return ports.Response{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var envelope domain.RequestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ports.Response{StatusCode: http.StatusBadRequest}, nil
	}
	d.plainRequests = append(d.plainRequests, envelope)
	d.cookies = append(d.cookies, cookie)

	return jsonResponse(map[string]any{"error_code": 0, "result": map[string]any{"echo": envelope.Method}}), nil
}

func (d *fakeDevice) PostSecure(ctx context.Context, token string, body []byte, cookie string) (ports.Response, error) {
	if err := ctx.Err(); err != nil {
		return ports.Response{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tokens = append(d.tokens, token)
	d.cookies = append(d.cookies, cookie)
	if cookie != d.cookie || d.codec == nil {
		return jsonResponse(map[string]any{"error_code": domain.ErrorCodeSessionTimeout}), nil
	}

	var outer domain.SecurePassthroughEnvelope
	if err := json.Unmarshal(body, &outer); err != nil || outer.Method != domain.SecurePassthroughMethod {
		return ports.Response{StatusCode: http.StatusBadRequest}, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(outer.Params.Request)
	if err != nil {
		return ports.Response{StatusCode: http.StatusBadRequest}, nil
	}
	plaintext, err := d.codec.Decrypt(ciphertext)
	if err != nil {
		return ports.Response{StatusCode: http.StatusBadRequest}, nil
	}

	var envelope domain.RequestEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return ports.Response{StatusCode: http.StatusBadRequest}, nil
	}
	d.requests = append(d.requests, envelope)
	d.methodCalls[envelope.Method]++

	reply, encrypt := d.answer(envelope, token)
	if !encrypt {
		return jsonResponse(reply), nil
	}

	inner, err := json.Marshal(reply)
	if err != nil {
		return ports.Response{StatusCode: http.StatusInternalServerError}, nil
	}
	sealed, err := d.codec.Encrypt(inner)
	if err != nil {
		return ports.Response{StatusCode: http.StatusInternalServerError}, nil
	}

	return jsonResponse(map[string]any{
		"error_code": 0,
		"result":     map[string]any{"response": base64.StdEncoding.EncodeToString(sealed)},
	}), nil
}

func (d *fakeDevice) answer(envelope domain.RequestEnvelope, token string) (map[string]any, bool) {
	if d.reply != nil {
		if body, encrypt := d.reply(envelope.Method, d.methodCalls[envelope.Method]); body != nil {
			return body, encrypt
		}
	}

	if envelope.Method == loginMethod {
		d.loginCalls++
		if envelope.Params["username"] != d.creds.Username || envelope.Params["password"] != d.creds.Password {
			return map[string]any{"error_code": domain.ErrorCodeInvalidCredential}, true
		}
		return map[string]any{"error_code": 0, "result": map[string]any{"token": d.token}}, true
	}

	if token != d.token {
		return map[string]any{"error_code": domain.ErrorCodeUnauthenticated}, true
	}
	return map[string]any{"error_code": 0, "result": map[string]any{"method": envelope.Method, "device_on": true}}, true
}

func (d *fakeDevice) counts() (handshake1 int, handshake2 int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handshake1Calls, d.handshake2Calls
}

func (d *fakeDevice) lastRequest() domain.RequestEnvelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func (d *fakeDevice) lastToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens[len(d.tokens)-1]
}

func jsonResponse(body map[string]any) ports.Response {
	data, _ := json.Marshal(body)
	return ports.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: data}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDeviceContext() *domain.DeviceContext {
	return domain.NewDeviceContext(domain.Device{
		ID:           "plug-1",
		Address:      "192.168.1.20",
		Username:     "u",
		TerminalUUID: "00000000-0000-4000-8000-000000000001",
	}, "p")
}

func newTestSessionManager(t *testing.T, transport ports.Transport, clock ports.Clock) (*SessionManager, *domain.DeviceContext) {
	t.Helper()

	device := newTestDeviceContext()
	m := NewSessionManager(device, transport, klap.NewSuite(), SessionConfig{Clock: clock})
	return m, device
}
