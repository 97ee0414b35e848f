package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName        = "config"
	configType        = "toml"
	devicesPathKey    = "devices.path"
	devicesFileMode   = 0o600
	devicesDirMode    = 0o700
	devicesConfigDir  = ".klapctl"
	devicesConfigFile = "devices.toml"
	tempFilePattern   = ".devices-*.toml.tmp"
)

// Repository stores the device registry in a single TOML file. Instances
// pointing at the same path share one lock.
type Repository struct {
	devicesPath string
	mu          *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.DeviceRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, devicesConfigDir, devicesConfigFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, devicesConfigDir))
	cfg.SetDefault(devicesPathKey, defaultPath)

	err = cfg.ReadInConfig()
	if err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	devicesPath := cfg.GetString(devicesPathKey)
	if devicesPath == "" {
		return nil, errors.New("devices path is empty")
	}
	devicesPath, err = normalizeDevicesPath(devicesPath)
	if err != nil {
		return nil, err
	}

	return &Repository{devicesPath: devicesPath, mu: lockForPath(devicesPath)}, nil
}

// Path returns the resolved devices file location.
func (r *Repository) Path() string {
	return r.devicesPath
}

func (r *Repository) Save(ctx context.Context, device domain.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toSchema(device)
	updated := false
	for i := range file.Devices {
		if file.Devices[i].ID == encoded.ID {
			file.Devices[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Devices = append(file.Devices, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) GetByID(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return domain.Device{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Device{}, err
	}

	for _, entry := range file.Devices {
		if entry.ID == string(id) {
			return fromSchema(entry), nil
		}
	}

	return domain.Device{}, fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, id)
}

// List returns every device ordered by id.
func (r *Repository) List(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	devices := make([]domain.Device, 0, len(file.Devices))
	for _, entry := range file.Devices {
		devices = append(devices, fromSchema(entry))
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})

	return devices, nil
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.devicesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read devices file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode devices file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeDevicesPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve devices path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// writeSchema replaces the devices file atomically through a temp file in
// the same directory.
func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.devicesPath), devicesDirMode); err != nil {
		return fmt.Errorf("create devices directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode devices file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.devicesPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp devices file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp devices file: %w", err)
	}

	if err := tempFile.Chmod(devicesFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp devices file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp devices file: %w", err)
	}

	if err := os.Rename(tempName, r.devicesPath); err != nil {
		return fmt.Errorf("replace devices file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(r.devicesPath, devicesFileMode); err != nil {
		return fmt.Errorf("chmod devices file: %w", err)
	}

	return nil
}

func toSchema(device domain.Device) deviceSchema {
	return deviceSchema{
		ID:           string(device.ID),
		Name:         device.Name,
		Address:      device.Address,
		Username:     device.Username,
		PasswordRef:  device.PasswordRef,
		TerminalUUID: device.TerminalUUID,
	}
}

func fromSchema(device deviceSchema) domain.Device {
	name := device.Name
	if name == "" {
		name = device.ID
	}

	return domain.Device{
		ID:           domain.DeviceID(device.ID),
		Name:         name,
		Address:      device.Address,
		Username:     device.Username,
		PasswordRef:  device.PasswordRef,
		TerminalUUID: device.TerminalUUID,
	}
}
