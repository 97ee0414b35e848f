package application

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	handshake1Path = "/handshake1"
	handshake2Path = "/handshake2"
	handshakeKey   = "handshake"

	// maxSessionTimeout is the largest TIMEOUT, in seconds, a time.Duration holds.
	maxSessionTimeout = math.MaxInt64 / int64(time.Second)
)

type SessionConfig struct {
	// RenewalMargin defaults to domain.DefaultRenewalMargin.
	RenewalMargin time.Duration
	// SkipConfirmation disables the handshake2 round-trip.
	SkipConfirmation bool
	Clock            ports.Clock
	Random           io.Reader
	Logger           zerolog.Logger
}

// SessionManager owns the handshake and the session state of one device.
// Concurrent callers that need a renewal share a single handshake.
type SessionManager struct {
	device    *domain.DeviceContext
	transport ports.Transport
	suite     ports.CipherSuite
	clock     ports.Clock
	random    io.Reader
	logger    zerolog.Logger
	margin    time.Duration
	confirm   bool

	mu      sync.RWMutex
	state   domain.SessionState
	keypair *ports.Keypair
	session *domain.Session

	// slot serializes handshakes so a forced one never overlaps a renewal.
	slot       chan struct{}
	handshakes singleflight.Group
	flightMu   sync.Mutex
	flight     *handshakeFlight
}

type handshakeFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewSessionManager(device *domain.DeviceContext, transport ports.Transport, suite ports.CipherSuite, cfg SessionConfig) *SessionManager {
	if cfg.RenewalMargin <= 0 {
		cfg.RenewalMargin = domain.DefaultRenewalMargin
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	if device.Token == nil {
		device.Token = &domain.TokenSlot{}
	}

	return &SessionManager{
		device:    device,
		transport: transport,
		suite:     suite,
		clock:     cfg.Clock,
		random:    cfg.Random,
		logger:    cfg.Logger.With().Str("device", string(device.ID)).Logger(),
		margin:    cfg.RenewalMargin,
		confirm:   !cfg.SkipConfirmation,
		state:     domain.SessionStateUninitialized,
		slot:      make(chan struct{}, 1),
	}
}

// Setup generates the asymmetric keypair. It must run once before any
// handshake.
func (m *SessionManager) Setup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair != nil {
		return domain.ErrAlreadySetup
	}

	keypair, err := m.suite.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("setup session: %w", err)
	}

	m.keypair = &keypair
	m.state = domain.SessionStateReadyForHandshake
	return nil
}

func (m *SessionManager) PublicKeyPEM() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.keypair == nil {
		return "", domain.ErrSetupRequired
	}
	return m.keypair.PublicKeyPEM, nil
}

func (m *SessionManager) NeedsRenewal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.needsRenewalLocked(m.clock.Now())
}

func (m *SessionManager) needsRenewalLocked(now time.Time) bool {
	switch {
	case m.device.Token.Get() == "":
		return true
	case m.session == nil || m.session.Cipher == nil:
		return true
	case m.session.ExpiresWithin(now, m.margin):
		return true
	case m.session.Cookie == "":
		return true
	default:
		return false
	}
}

// Acquire returns the current session, performing a handshake first when
// force is set or the session needs renewal.
func (m *SessionManager) Acquire(ctx context.Context, force bool) (*domain.Session, error) {
	if force {
		return m.exclusiveHandshake(ctx, nil)
	}

	m.mu.RLock()
	session := m.session
	renew := m.needsRenewalLocked(m.clock.Now())
	m.mu.RUnlock()
	if !renew {
		return session, nil
	}

	return m.sharedHandshake(ctx)
}

// PerformHandshake runs a fresh handshake with seed as the local seed. A nil
// seed draws 16 random bytes. It waits for any handshake already in flight
// and never joins it.
func (m *SessionManager) PerformHandshake(ctx context.Context, seed []byte) (*domain.Session, error) {
	return m.exclusiveHandshake(ctx, seed)
}

// exclusiveHandshake runs a handshake of its own once the handshake slot is
// free. The caller's ctx drives it.
func (m *SessionManager) exclusiveHandshake(ctx context.Context, seed []byte) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
	defer func() { <-m.slot }()

	return m.handshake(ctx, seed)
}

// sharedHandshake joins or starts the renewal flight. The flight outlives
// any single caller and is canceled only once every caller waiting on it
// has given up.
func (m *SessionManager) sharedHandshake(ctx context.Context) (*domain.Session, error) {
	m.flightMu.Lock()
	flight := m.flight
	if flight == nil || flight.ctx.Err() != nil {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		flight = &handshakeFlight{ctx: flightCtx, cancel: cancel}
		m.flight = flight
	}
	flight.waiters++
	results := m.handshakes.DoChan(handshakeKey, func() (any, error) {
		defer m.endFlight(flight)
		return m.renew(flight.ctx)
	})
	m.flightMu.Unlock()

	select {
	case res := <-results:
		m.leaveFlight(flight, false)
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			m.logger.Debug().Msg("joined in-flight handshake")
		}
		return res.Val.(*domain.Session), nil
	case <-ctx.Done():
		m.leaveFlight(flight, true)
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
}

// renew re-checks the session once it holds the handshake slot.
func (m *SessionManager) renew(ctx context.Context) (*domain.Session, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
	defer func() { <-m.slot }()

	m.mu.RLock()
	session := m.session
	renew := m.needsRenewalLocked(m.clock.Now())
	m.mu.RUnlock()
	if !renew {
		return session, nil
	}

	return m.handshake(ctx, nil)
}

func (m *SessionManager) leaveFlight(flight *handshakeFlight, abandoned bool) {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	flight.waiters--
	if abandoned && flight.waiters == 0 {
		flight.cancel()
	}
}

func (m *SessionManager) endFlight(flight *handshakeFlight) {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	if m.flight == flight {
		m.flight = nil
	}
	flight.cancel()
}

func (m *SessionManager) handshake(ctx context.Context, seed []byte) (*domain.Session, error) {
	m.mu.RLock()
	keypair := m.keypair
	m.mu.RUnlock()
	if keypair == nil {
		return nil, domain.ErrSetupRequired
	}

	local, err := m.localSeed(seed)
	if err != nil {
		return nil, err
	}

	m.logger.Debug().Msg("starting handshake")

	resp, err := m.transport.PostHandshake(ctx, handshake1Path, local, "")
	if err != nil {
		return nil, fmt.Errorf("handshake1: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.HandshakeStatusError{Stage: "handshake1", Status: resp.StatusCode}
	}
	if len(resp.Body) != domain.HandshakeResponseLength {
		return nil, &domain.HandshakeLengthError{Actual: len(resp.Body)}
	}

	cookie := resp.SetCookie()
	sessionID, timeout, err := parseSessionCookie(cookie)
	if err != nil {
		return nil, err
	}

	material := ports.HandshakeMaterial{
		LocalSeed:  local,
		RemoteSeed: append([]byte(nil), resp.Body[:domain.HandshakeSeedLength]...),
		AuthHash:   m.suite.AuthHash(m.device.Credentials),
	}
	if !hmac.Equal(m.suite.ServerProof(material), resp.Body[domain.HandshakeSeedLength:]) {
		return nil, fmt.Errorf("handshake1: %w", domain.ErrHandshakeRejected)
	}

	codec, err := m.suite.DeriveCodec(material)
	if err != nil {
		return nil, fmt.Errorf("derive session cipher: %w", err)
	}

	if m.confirm {
		codec, err = m.confirmHandshake(ctx, material, cookie, *keypair, codec)
		if err != nil {
			return nil, err
		}
	}

	now := m.clock.Now()
	session := &domain.Session{
		Cookie:         cookie,
		ID:             sessionID,
		TimeoutSeconds: timeout,
		EstablishedAt:  now,
		ExpiresAt:      now.Add(time.Duration(timeout) * time.Second),
		Cipher:         codec,
	}

	m.mu.Lock()
	m.session = session
	m.state = domain.SessionStateEstablished
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", sessionID).
		Time("expires_at", session.ExpiresAt).
		Msg("session established")

	return session, nil
}

// confirmHandshake proves our knowledge of the credentials to the device.
// A device that answers with an RSA-wrapped key overrides the seed-derived
// codec.
func (m *SessionManager) confirmHandshake(ctx context.Context, material ports.HandshakeMaterial, cookie string, keypair ports.Keypair, codec domain.Codec) (domain.Codec, error) {
	resp, err := m.transport.PostHandshake(ctx, handshake2Path, m.suite.ClientProof(material), cookie)
	if err != nil {
		return nil, fmt.Errorf("handshake2: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.HandshakeStatusError{Stage: "handshake2", Status: resp.StatusCode}
	}

	wrapped := wrappedKey(resp.Body)
	if wrapped == "" {
		return codec, nil
	}

	unwrapped, err := m.suite.UnwrapCodec(keypair, wrapped)
	if err != nil {
		return nil, fmt.Errorf("handshake2: %w", err)
	}

	m.logger.Debug().Msg("using device-wrapped session key")
	return unwrapped, nil
}

// Invalidate drops the session and the login token, forcing the next secure
// call to handshake again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	m.device.Token.Clear()
	if m.keypair != nil {
		m.state = domain.SessionStateInvalidated
	}

	m.logger.Info().Msg("session invalidated")
}

// Session returns the published session, nil when none is established.
func (m *SessionManager) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// State reports Expired once an established session is inside the renewal
// margin.
func (m *SessionManager) State() domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(m.clock.Now())
}

func (m *SessionManager) stateLocked(now time.Time) domain.SessionState {
	if m.state == domain.SessionStateEstablished && m.session.ExpiresWithin(now, m.margin) {
		return domain.SessionStateExpired
	}
	return m.state
}

func (m *SessionManager) Status() domain.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := domain.SessionStatus{
		DeviceID:      m.device.ID,
		Name:          m.device.Name,
		Address:       m.device.Address,
		State:         m.stateLocked(m.clock.Now()),
		LoggedIn:      m.device.Token.Get() != "",
		RenewalMargin: m.margin,
	}
	if m.session != nil {
		status.SessionID = m.session.ID
		status.EstablishedAt = m.session.EstablishedAt
		status.ExpiresAt = m.session.ExpiresAt
	}

	return status
}

func (m *SessionManager) localSeed(seed []byte) ([]byte, error) {
	if seed != nil {
		if len(seed) != domain.HandshakeSeedLength {
			return nil, fmt.Errorf("handshake seed must be %d bytes, got %d", domain.HandshakeSeedLength, len(seed))
		}
		return append([]byte(nil), seed...), nil
	}

	local := make([]byte, domain.HandshakeSeedLength)
	if _, err := io.ReadFull(m.random, local); err != nil {
		return nil, fmt.Errorf("generate handshake seed: %w", err)
	}
	return local, nil
}

// parseSessionCookie reads "<name>=<id>;<name>=<timeout seconds>".
func parseSessionCookie(cookie string) (string, int64, error) {
	parts := strings.Split(cookie, ";")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("%w: %q", domain.ErrMalformedCookie, cookie)
	}

	sessionID := cookieValue(parts[0])
	timeout, err := strconv.ParseInt(cookieValue(parts[1]), 10, 64)
	if sessionID == "" || err != nil || timeout <= 0 || timeout > maxSessionTimeout {
		return "", 0, fmt.Errorf("%w: %q", domain.ErrMalformedCookie, cookie)
	}

	return sessionID, timeout, nil
}

func cookieValue(part string) string {
	part = strings.TrimSpace(part)
	if i := strings.LastIndex(part, "="); i >= 0 {
		return strings.TrimSpace(part[i+1:])
	}
	return part
}

func wrappedKey(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload struct {
		Result struct {
			Key string `json:"key"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Result.Key
}
