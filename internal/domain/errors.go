package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrSecretNotFound = errors.New("secret not found")

	ErrSetupRequired        = errors.New("session setup required before handshake")
	ErrAlreadySetup         = errors.New("session already set up")
	ErrMalformedCookie      = errors.New("malformed handshake session cookie")
	ErrHandshakeRejected    = errors.New("device rejected handshake credentials")
	ErrCipherNotEstablished = errors.New("session cipher not established")
	ErrLoginRequired        = errors.New("login token required")
	ErrLoginFailure         = errors.New("login response missing token")
)

// HandshakeStatusError reports a non-200 answer from a handshake endpoint.
type HandshakeStatusError struct {
	Stage  string
	Status int
}

func (e *HandshakeStatusError) Error() string {
	return fmt.Sprintf("%s failed: status %d", e.Stage, e.Status)
}

// HandshakeLengthError reports a handshake1 body that is not exactly 48 bytes.
type HandshakeLengthError struct {
	Actual int
}

func (e *HandshakeLengthError) Error() string {
	return fmt.Sprintf("handshake1 failed: expected %d byte response, got %d", HandshakeResponseLength, e.Actual)
}

type LoginError struct {
	ErrorCode int
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login_device: %s (error_code %d)", ErrLoginFailure, e.ErrorCode)
}

func (e *LoginError) Unwrap() error {
	return ErrLoginFailure
}

// TransportError wraps a failed HTTP exchange with the device. Status is 0
// when no response was received.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeviceError is a non-zero error_code returned inside a device response.
type DeviceError struct {
	Method string
	Code   int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device error_code %d", e.Method, e.Code)
}

// SessionRejected reports whether the device refused the request because the
// session or token is no longer valid.
func (e *DeviceError) SessionRejected() bool {
	return IsSessionRejectedCode(e.Code)
}
