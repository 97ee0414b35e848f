package application

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bnema/klapctl/internal/adapters/klap"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
	"github.com/bnema/klapctl/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerNeedsRenewal(t *testing.T) {
	clock := newTestClock()
	codec, err := klap.NewSuite().DeriveCodec(ports.HandshakeMaterial{
		LocalSeed:  bytes.Repeat([]byte{1}, 16),
		RemoteSeed: bytes.Repeat([]byte{2}, 16),
		AuthHash:   []byte("auth"),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		session *domain.Session
		want    bool
	}{
		{
			name:  "no token",
			token: "",
			session: &domain.Session{
				Cookie: "TP_SESSIONID=a;TIMEOUT=86400", Cipher: codec, ExpiresAt: clock.Now().Add(time.Hour),
			},
			want: true,
		},
		{
			name:  "no session",
			token: "T",
			want:  true,
		},
		{
			name:  "no cipher",
			token: "T",
			session: &domain.Session{
				Cookie: "TP_SESSIONID=a;TIMEOUT=86400", ExpiresAt: clock.Now().Add(time.Hour),
			},
			want: true,
		},
		{
			name:  "inside renewal margin",
			token: "T",
			session: &domain.Session{
				Cookie: "TP_SESSIONID=a;TIMEOUT=86400", Cipher: codec, ExpiresAt: clock.Now().Add(39 * time.Second),
			},
			want: true,
		},
		{
			name:  "exactly at renewal margin",
			token: "T",
			session: &domain.Session{
				Cookie: "TP_SESSIONID=a;TIMEOUT=86400", Cipher: codec, ExpiresAt: clock.Now().Add(40 * time.Second),
			},
			want: true,
		},
		{
			name:  "empty cookie",
			token: "T",
			session: &domain.Session{
				Cipher: codec, ExpiresAt: clock.Now().Add(time.Hour),
			},
			want: true,
		},
		{
			name:  "valid",
			token: "T",
			session: &domain.Session{
				Cookie: "TP_SESSIONID=a;TIMEOUT=86400", Cipher: codec, ExpiresAt: clock.Now().Add(41 * time.Second),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, device := newTestSessionManager(t, newFakeDevice(), clock)
			device.Token.Set(tt.token)
			m.session = tt.session

			assert.Equal(t, tt.want, m.NeedsRenewal())
		})
	}
}

func TestSessionManagerHandshakeRequiresSetup(t *testing.T) {
	m, _ := newTestSessionManager(t, newFakeDevice(), newTestClock())

	_, err := m.PerformHandshake(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrSetupRequired)
	assert.Equal(t, domain.SessionStateUninitialized, m.State())

	_, err = m.PublicKeyPEM()
	require.ErrorIs(t, err, domain.ErrSetupRequired)
}

func TestSessionManagerSetupTwiceFails(t *testing.T) {
	m, _ := newTestSessionManager(t, newFakeDevice(), newTestClock())

	require.NoError(t, m.Setup())
	assert.Equal(t, domain.SessionStateReadyForHandshake, m.State())

	pem, err := m.PublicKeyPEM()
	require.NoError(t, err)
	assert.Contains(t, pem, "BEGIN PUBLIC KEY")

	require.ErrorIs(t, m.Setup(), domain.ErrAlreadySetup)
}

func TestSessionManagerHandshakeEstablishesSession(t *testing.T) {
	device := newFakeDevice()
	device.cookieFor = func(int) string { return "TP_SESSIONID=abc123;TIMEOUT=86400" }
	clock := newTestClock()
	m, _ := newTestSessionManager(t, device, clock)
	require.NoError(t, m.Setup())

	seed := []byte("0123456789abcdef")
	session, err := m.PerformHandshake(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, "TP_SESSIONID=abc123;TIMEOUT=86400", session.Cookie)
	assert.Equal(t, "abc123", session.ID)
	assert.Equal(t, int64(86400), session.TimeoutSeconds)
	assert.Equal(t, clock.Now(), session.EstablishedAt)
	assert.Equal(t, clock.Now().Add(86400*time.Second), session.ExpiresAt)
	require.NotNil(t, session.Cipher)
	assert.Same(t, session, m.Session())
	assert.Equal(t, domain.SessionStateEstablished, m.State())

	require.Len(t, device.seeds, 1)
	assert.Equal(t, seed, device.seeds[0])

	handshake1, handshake2 := device.counts()
	assert.Equal(t, 1, handshake1)
	assert.Equal(t, 1, handshake2)
}

func TestSessionManagerHandshakeSkipsConfirmation(t *testing.T) {
	device := newFakeDevice()
	m := NewSessionManager(newTestDeviceContext(), device, klap.NewSuite(), SessionConfig{
		Clock:            newTestClock(),
		SkipConfirmation: true,
	})
	require.NoError(t, m.Setup())

	_, err := m.PerformHandshake(context.Background(), nil)
	require.NoError(t, err)

	handshake1, handshake2 := device.counts()
	assert.Equal(t, 1, handshake1)
	assert.Equal(t, 0, handshake2)
}

func TestSessionManagerHandshakeRejectsSeedOfWrongLength(t *testing.T) {
	device := newFakeDevice()
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	_, err := m.PerformHandshake(context.Background(), []byte("short"))
	require.Error(t, err)

	handshake1, _ := device.counts()
	assert.Zero(t, handshake1)
}

func TestSessionManagerHandshakeStatusError(t *testing.T) {
	transport := mocks.NewMockTransport(t)
	m, _ := newTestSessionManager(t, transport, newTestClock())
	require.NoError(t, m.Setup())

	transport.EXPECT().
		PostHandshake(mockAnyContext(), "/handshake1", mock.Anything, "").
		Return(ports.Response{StatusCode: http.StatusInternalServerError}, nil)

	_, err := m.PerformHandshake(context.Background(), nil)

	var statusErr *domain.HandshakeStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "handshake1", statusErr.Stage)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Nil(t, m.Session())
	assert.Equal(t, domain.SessionStateReadyForHandshake, m.State())
}

func TestSessionManagerHandshakeLengthError(t *testing.T) {
	transport := mocks.NewMockTransport(t)
	m, _ := newTestSessionManager(t, transport, newTestClock())
	require.NoError(t, m.Setup())

	header := http.Header{}
	header.Set("Set-Cookie", "TP_SESSIONID=abc123;TIMEOUT=86400")
	transport.EXPECT().
		PostHandshake(mockAnyContext(), "/handshake1", mock.Anything, "").
		Return(ports.Response{StatusCode: http.StatusOK, Header: header, Body: make([]byte, 47)}, nil)

	_, err := m.PerformHandshake(context.Background(), nil)

	var lengthErr *domain.HandshakeLengthError
	require.ErrorAs(t, err, &lengthErr)
	assert.Equal(t, 47, lengthErr.Actual)
	assert.Nil(t, m.Session())
}

func TestSessionManagerHandshakeTransportError(t *testing.T) {
	transport := mocks.NewMockTransport(t)
	m, _ := newTestSessionManager(t, transport, newTestClock())
	require.NoError(t, m.Setup())

	transport.EXPECT().
		PostHandshake(mockAnyContext(), "/handshake1", mock.Anything, "").
		Return(ports.Response{}, &domain.TransportError{Op: "post /handshake1", Err: errors.New("connection refused")})

	_, err := m.PerformHandshake(context.Background(), nil)

	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Nil(t, m.Session())
}

func TestSessionManagerHandshakeRejectsWrongCredentials(t *testing.T) {
	device := newFakeDevice()
	device.creds = domain.Credentials{Username: "u", Password: "other"}
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	_, err := m.PerformHandshake(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrHandshakeRejected)
	assert.Nil(t, m.Session())

	_, handshake2 := device.counts()
	assert.Zero(t, handshake2)
}

func TestSessionManagerHandshakeMalformedCookie(t *testing.T) {
	for _, cookie := range []string{"", "TP_SESSIONID=abc123", "TP_SESSIONID=abc123;TIMEOUT=soon", "TP_SESSIONID=;TIMEOUT=60", "TP_SESSIONID=abc123;TIMEOUT=9300000000"} {
		t.Run(fmt.Sprintf("%q", cookie), func(t *testing.T) {
			device := newFakeDevice()
			device.cookieFor = func(int) string { return cookie }
			m, _ := newTestSessionManager(t, device, newTestClock())
			require.NoError(t, m.Setup())

			_, err := m.PerformHandshake(context.Background(), nil)
			require.ErrorIs(t, err, domain.ErrMalformedCookie)
			assert.Nil(t, m.Session())
		})
	}
}

func TestSessionManagerHandshake2StatusError(t *testing.T) {
	device := newFakeDevice()
	device.handshake2Status = http.StatusUnauthorized
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	_, err := m.PerformHandshake(context.Background(), nil)

	var statusErr *domain.HandshakeStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "handshake2", statusErr.Stage)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	assert.Nil(t, m.Session())
}

func TestSessionManagerHandshakeFailureKeepsPreviousSession(t *testing.T) {
	device := newFakeDevice()
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	first, err := m.PerformHandshake(context.Background(), nil)
	require.NoError(t, err)

	device.handshake2Status = http.StatusInternalServerError
	_, err = m.PerformHandshake(context.Background(), nil)
	require.Error(t, err)

	assert.Same(t, first, m.Session())
	assert.Equal(t, domain.SessionStateEstablished, m.State())
}

func TestSessionManagerHandshakeUsesDeviceWrappedKey(t *testing.T) {
	device := newFakeDevice()
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	publicPEM, err := m.PublicKeyPEM()
	require.NoError(t, err)
	block, _ := pem.Decode([]byte(publicPEM))
	require.NotNil(t, block)
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)

	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, parsed.(*rsa.PublicKey), append(append([]byte(nil), key...), iv...))
	require.NoError(t, err)
	device.handshake2Body = []byte(fmt.Sprintf(`{"error_code":0,"result":{"key":%q}}`, base64.StdEncoding.EncodeToString(wrapped)))

	session, err := m.PerformHandshake(context.Background(), nil)
	require.NoError(t, err)

	aesBlock, err := aes.NewCipher(key)
	require.NoError(t, err)
	padded := append([]byte("hello"), bytes.Repeat([]byte{11}, 11)...)
	want := make([]byte, len(padded))
	cipher.NewCBCEncrypter(aesBlock, iv).CryptBlocks(want, padded)

	got, err := session.Cipher.Encrypt([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionManagerAcquireReusesValidSession(t *testing.T) {
	device := newFakeDevice()
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	first, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	handshake1, _ := device.counts()
	assert.Equal(t, 1, handshake1)

	forced, err := m.Acquire(context.Background(), true)
	require.NoError(t, err)
	assert.NotSame(t, first, forced)
	handshake1, _ = device.counts()
	assert.Equal(t, 2, handshake1)
}

func TestSessionManagerAcquireRenewsInsideMargin(t *testing.T) {
	device := newFakeDevice()
	device.cookieFor = func(n int) string { return fmt.Sprintf("TP_SESSIONID=sess-%d;TIMEOUT=120", n) }
	clock := newTestClock()
	m, dc := newTestSessionManager(t, device, clock)
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	first, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)

	clock.Advance(79 * time.Second)
	again, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, first, again)

	clock.Advance(time.Second)
	assert.Equal(t, domain.SessionStateExpired, m.State())

	renewed, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "sess-2", renewed.ID)
	assert.Equal(t, domain.SessionStateEstablished, m.State())
}

func TestSessionManagerConcurrentAcquireSharesHandshake(t *testing.T) {
	device := newFakeDevice()
	device.handshakeGate = make(chan struct{})
	device.handshakeEnter = make(chan struct{}, 8)
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	const callers = 8
	sessions := make([]*domain.Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = m.Acquire(context.Background(), false)
		}(i)
	}

	<-device.handshakeEnter
	time.Sleep(20 * time.Millisecond)
	close(device.handshakeGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i])
	}
	handshake1, handshake2 := device.counts()
	assert.Equal(t, 1, handshake1)
	assert.Equal(t, 1, handshake2)
}

func TestSessionManagerSeededHandshakeWaitsForRenewalInFlight(t *testing.T) {
	device := newFakeDevice()
	device.handshakeGate = make(chan struct{})
	device.handshakeEnter = make(chan struct{}, 2)
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	var renewed *domain.Session
	var renewErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renewed, renewErr = m.Acquire(context.Background(), false)
	}()
	<-device.handshakeEnter

	seed := bytes.Repeat([]byte{0xAB}, domain.HandshakeSeedLength)
	var seeded *domain.Session
	var seededErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		seeded, seededErr = m.PerformHandshake(context.Background(), seed)
	}()

	time.Sleep(20 * time.Millisecond)
	close(device.handshakeGate)
	wg.Wait()

	require.NoError(t, renewErr)
	require.NoError(t, seededErr)
	assert.NotSame(t, renewed, seeded)
	assert.Same(t, seeded, m.Session())

	handshake1, _ := device.counts()
	assert.Equal(t, 2, handshake1)
	require.Len(t, device.seeds, 2)
	assert.Equal(t, seed, device.seeds[1])
	assert.NotEqual(t, seed, device.seeds[0])
}

func TestSessionManagerForcedAcquireDoesNotJoinRenewal(t *testing.T) {
	device := newFakeDevice()
	device.handshakeGate = make(chan struct{})
	device.handshakeEnter = make(chan struct{}, 2)
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	var wg sync.WaitGroup
	sessions := make([]*domain.Session, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions[0], errs[0] = m.Acquire(context.Background(), false)
	}()
	<-device.handshakeEnter

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions[1], errs[1] = m.Acquire(context.Background(), true)
	}()

	time.Sleep(20 * time.Millisecond)
	close(device.handshakeGate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.Equal(t, "sess-2", sessions[1].ID)
	handshake1, _ := device.counts()
	assert.Equal(t, 2, handshake1)
}

func TestSessionManagerJoinerSurvivesLeaderCancellation(t *testing.T) {
	device := newFakeDevice()
	device.handshakeGate = make(chan struct{})
	device.handshakeEnter = make(chan struct{}, 2)
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(leaderCtx, false)
		leaderErr <- err
	}()
	<-device.handshakeEnter

	var joined *domain.Session
	var joinErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		joined, joinErr = m.Acquire(context.Background(), false)
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(device.handshakeGate)
	<-done

	require.NoError(t, joinErr)
	assert.Equal(t, "sess-1", joined.ID)
	assert.Same(t, joined, m.Session())
	handshake1, _ := device.counts()
	assert.Equal(t, 1, handshake1)
}

func TestSessionManagerAbandonedRenewalPublishesNothing(t *testing.T) {
	device := newFakeDevice()
	device.handshakeGate = make(chan struct{})
	device.handshakeEnter = make(chan struct{}, 2)
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, false)
		errCh <- err
	}()
	<-device.handshakeEnter

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	close(device.handshakeGate)

	assert.Eventually(t, func() bool {
		m.flightMu.Lock()
		defer m.flightMu.Unlock()
		return m.flight == nil
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, m.Session())
	assert.Equal(t, domain.SessionStateReadyForHandshake, m.State())
	handshake1, _ := device.counts()
	assert.Zero(t, handshake1)
}

func TestSessionManagerHandshakeHonorsCancellation(t *testing.T) {
	device := newFakeDevice()
	m, _ := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.PerformHandshake(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m.Session())
	assert.Equal(t, domain.SessionStateReadyForHandshake, m.State())
}

func TestSessionManagerInvalidate(t *testing.T) {
	device := newFakeDevice()
	m, dc := newTestSessionManager(t, device, newTestClock())
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	_, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)
	require.False(t, m.NeedsRenewal())

	m.Invalidate()

	assert.Nil(t, m.Session())
	assert.Empty(t, dc.Token.Get())
	assert.True(t, m.NeedsRenewal())
	assert.Equal(t, domain.SessionStateInvalidated, m.State())

	status := m.Status()
	assert.False(t, status.LoggedIn)
	assert.Empty(t, status.SessionID)
}

func TestSessionManagerStatus(t *testing.T) {
	device := newFakeDevice()
	clock := newTestClock()
	m, dc := newTestSessionManager(t, device, clock)
	require.NoError(t, m.Setup())
	dc.Token.Set("T")

	session, err := m.Acquire(context.Background(), false)
	require.NoError(t, err)

	status := m.Status()
	assert.Equal(t, domain.DeviceID("plug-1"), status.DeviceID)
	assert.Equal(t, "192.168.1.20", status.Address)
	assert.Equal(t, domain.SessionStateEstablished, status.State)
	assert.Equal(t, session.ID, status.SessionID)
	assert.True(t, status.LoggedIn)
	assert.Equal(t, session.ExpiresAt, status.ExpiresAt)
	assert.Equal(t, domain.DefaultRenewalMargin, status.RenewalMargin)
}

func TestParseSessionCookie(t *testing.T) {
	id, timeout, err := parseSessionCookie("TP_SESSIONID=abc123;TIMEOUT=86400")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, int64(86400), timeout)

	id, timeout, err = parseSessionCookie("TP_SESSIONID=xyz; TIMEOUT=1440")
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)
	assert.Equal(t, int64(1440), timeout)

	_, _, err = parseSessionCookie("TP_SESSIONID=xyz;TIMEOUT=-5")
	require.ErrorIs(t, err, domain.ErrMalformedCookie)

	_, timeout, err = parseSessionCookie(fmt.Sprintf("TP_SESSIONID=xyz;TIMEOUT=%d", maxSessionTimeout))
	require.NoError(t, err)
	assert.Equal(t, maxSessionTimeout, timeout)

	_, _, err = parseSessionCookie(fmt.Sprintf("TP_SESSIONID=xyz;TIMEOUT=%d", maxSessionTimeout+1))
	require.ErrorIs(t, err, domain.ErrMalformedCookie)
}
