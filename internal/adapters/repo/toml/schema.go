package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version int            `toml:"version"`
	Devices []deviceSchema `toml:"devices"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported devices schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type deviceSchema struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Address      string `toml:"address"`
	Username     string `toml:"username"`
	PasswordRef  string `toml:"password_ref,omitempty"`
	TerminalUUID string `toml:"terminal_uuid"`
}
