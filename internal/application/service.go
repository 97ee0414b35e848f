package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
	"github.com/google/uuid"
)

var ErrNoCredentials = errors.New("device has no stored password")

// Service manages the device registry and the device passwords kept in the
// secret store.
type Service struct {
	repo  ports.DeviceRepository
	store ports.SecretStore
	newID func() string
}

func NewService(repo ports.DeviceRepository, store ports.SecretStore) *Service {
	return &Service{
		repo:  repo,
		store: store,
		newID: uuid.NewString,
	}
}

// AddDevice registers a device or updates its address and username. The
// terminal UUID and password reference of an existing device are kept.
func (s *Service) AddDevice(ctx context.Context, cmd AddDeviceCommand) (domain.Device, error) {
	if strings.TrimSpace(string(cmd.ID)) == "" {
		return domain.Device{}, errors.New("device id is required")
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return domain.Device{}, errors.New("device address is required")
	}

	device, err := s.repo.GetByID(ctx, cmd.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrDeviceNotFound) {
			return domain.Device{}, fmt.Errorf("get device by id: %w", err)
		}
		device = domain.Device{ID: cmd.ID}
	}

	device.Address = strings.TrimSpace(cmd.Address)
	device.Username = cmd.Username
	device.Name = cmd.Name
	if device.Name == "" {
		device.Name = string(cmd.ID)
	}
	if device.TerminalUUID == "" {
		device.TerminalUUID = s.newID()
	}

	if err := s.repo.Save(ctx, device); err != nil {
		return domain.Device{}, fmt.Errorf("save device: %w", err)
	}

	return device, nil
}

func (s *Service) ListDevices(ctx context.Context) ([]domain.Device, error) {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (s *Service) GetDevice(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Device{}, fmt.Errorf("get device by id: %w", err)
	}
	return device, nil
}

// SetPassword stores the device password under secretKey and points the
// device at it. A previous secret under another key is deleted; failures roll
// the registry and the new secret back.
func (s *Service) SetPassword(ctx context.Context, id domain.DeviceID, secretKey, password string) error {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get device by id: %w", err)
	}
	original := device

	if err := s.store.Put(ctx, secretKey, password); err != nil {
		return fmt.Errorf("store device password: %w", err)
	}

	device.PasswordRef = secretKey
	if err := s.repo.Save(ctx, device); err != nil {
		if rollbackErr := s.store.Delete(ctx, secretKey); rollbackErr != nil {
			return fmt.Errorf("save device password ref and rollback stored secret: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save device password ref: %w", err)
	}

	if original.PasswordRef == "" || original.PasswordRef == secretKey {
		return nil
	}

	if err := s.store.Delete(ctx, original.PasswordRef); err != nil {
		var rollbackErr error
		if restoreErr := s.repo.Save(ctx, original); restoreErr != nil {
			rollbackErr = errors.Join(rollbackErr, restoreErr)
		}
		if newSecretDeleteErr := s.store.Delete(ctx, secretKey); newSecretDeleteErr != nil {
			rollbackErr = errors.Join(rollbackErr, newSecretDeleteErr)
		}
		if rollbackErr != nil {
			return fmt.Errorf("delete previous device password and rollback update: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("delete previous device password: %w", err)
	}

	return nil
}

func (s *Service) RemovePassword(ctx context.Context, id domain.DeviceID) error {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get device by id: %w", err)
	}
	original := device

	if device.PasswordRef == "" {
		return nil
	}

	device.PasswordRef = ""
	if err := s.repo.Save(ctx, device); err != nil {
		return fmt.Errorf("save device password ref: %w", err)
	}

	if err := s.store.Delete(ctx, original.PasswordRef); err != nil {
		if restoreErr := s.repo.Save(ctx, original); restoreErr != nil {
			return fmt.Errorf("delete device password and restore ref: %w", errors.Join(err, restoreErr))
		}
		return fmt.Errorf("delete device password: %w", err)
	}

	return nil
}

// OpenDevice resolves the stored password and returns a fresh device context.
func (s *Service) OpenDevice(ctx context.Context, id domain.DeviceID) (*domain.DeviceContext, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get device by id: %w", err)
	}
	if device.PasswordRef == "" {
		return nil, fmt.Errorf("open device %s: %w", id, ErrNoCredentials)
	}

	password, err := s.store.Get(ctx, device.PasswordRef)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return nil, fmt.Errorf("open device %s: %w", id, errors.Join(ErrNoCredentials, err))
	}
	if err != nil {
		return nil, fmt.Errorf("read device password: %w", err)
	}

	return domain.NewDeviceContext(device, password), nil
}

// PasswordKey is the default secret-store key for a device password.
func PasswordKey(id domain.DeviceID) string {
	return fmt.Sprintf("klapctl/devices/%s/password", id)
}
