package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration for vault binaries.
type Config struct {
	DataDir     string
	Environment string
	// Database selects the ledger store under DataDir: "leveldb", "bolt" or
	// "memory".
	Database  string
	Vault     Vault     `toml:"vault"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Journal   Journal   `toml:"journal"`
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		DataDir:     "./vault-data",
		Environment: "local",
		Database:    "leveldb",
		Vault: Vault{
			RatePerPeriod:  "0.0001",
			PeriodSeconds:  86400,
			PeriodsPerYear: 365,
			LockSeconds:    7 * 86400,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Insecure: true,
		},
	}
}

// Load reads the TOML file at path. A missing file is created with defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.Database = strings.ToLower(strings.TrimSpace(cfg.Database))
	if cfg.Database == "" {
		cfg.Database = "leveldb"
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
