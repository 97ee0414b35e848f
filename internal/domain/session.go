package domain

import "time"

type SessionState string

const (
	SessionStateUninitialized     SessionState = "uninitialized"
	SessionStateReadyForHandshake SessionState = "ready_for_handshake"
	SessionStateEstablished       SessionState = "established"
	SessionStateExpired           SessionState = "expired"
	SessionStateInvalidated       SessionState = "invalidated"
)

// Codec encrypts and decrypts secure passthrough payloads for one session.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Session is the result of a completed handshake. A published Session is
// never mutated; renewal replaces it as a whole.
type Session struct {
	Cookie         string
	ID             string
	TimeoutSeconds int64
	EstablishedAt  time.Time
	ExpiresAt      time.Time
	Cipher         Codec
}

func (s *Session) Remaining(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// ExpiresWithin reports whether the session ends inside margin of now.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return s.Remaining(now) <= margin
}

// SessionStatus is a point-in-time view of a device session for display.
type SessionStatus struct {
	DeviceID      DeviceID
	Name          string
	Address       string
	State         SessionState
	SessionID     string
	LoggedIn      bool
	EstablishedAt time.Time
	ExpiresAt     time.Time
	RenewalMargin time.Duration
}
