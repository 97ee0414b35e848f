package domain

import "time"

const (
	HandshakeSeedLength     = 16
	HandshakeProofLength    = 32
	HandshakeResponseLength = HandshakeSeedLength + HandshakeProofLength

	// DefaultRenewalMargin is how long before expiry a session is renewed.
	DefaultRenewalMargin = 40 * time.Second
)

const (
	ErrorCodeSessionTimeout    = 9999
	ErrorCodeInvalidSession    = -1301
	ErrorCodeInvalidCredential = -1501
	ErrorCodeUnauthenticated   = -1012
)

func IsSessionRejectedCode(code int) bool {
	switch code {
	case ErrorCodeSessionTimeout, ErrorCodeInvalidSession, ErrorCodeUnauthenticated:
		return true
	default:
		return false
	}
}
