package domain

import "sync"

type DeviceID string

// Device is the persisted description of a LAN device. The password itself
// lives in the secret store; PasswordRef points at it.
type Device struct {
	ID           DeviceID
	Name         string
	Address      string
	Username     string
	PasswordRef  string
	TerminalUUID string
}

type Credentials struct {
	Username string
	Password string
}

// DeviceContext is everything a session needs to talk to one device. It is
// shared by pointer between the session manager and the dispatcher.
type DeviceContext struct {
	ID           DeviceID
	Name         string
	Address      string
	Credentials  Credentials
	TerminalUUID string
	Token        *TokenSlot
}

func NewDeviceContext(device Device, password string) *DeviceContext {
	return &DeviceContext{
		ID:      device.ID,
		Name:    device.Name,
		Address: device.Address,
		Credentials: Credentials{
			Username: device.Username,
			Password: password,
		},
		TerminalUUID: device.TerminalUUID,
		Token:        &TokenSlot{},
	}
}

// TokenSlot holds the login token issued by login_device.
type TokenSlot struct {
	mu    sync.RWMutex
	value string
}

func (s *TokenSlot) Get() string {
	if s == nil {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *TokenSlot) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = token
}

func (s *TokenSlot) Clear() {
	if s == nil {
		return
	}
	s.Set("")
}
