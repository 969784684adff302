package config

import "fmt"

// Validate rejects configurations the vault binaries cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, err := cfg.Vault.Params(); err != nil {
		return err
	}
	switch cfg.Database {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown database %q", cfg.Database)
	}
	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return err
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}
