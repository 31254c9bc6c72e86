// Package config manages permrevert configuration and the .permrevert
// directory structure. It handles loading, saving, and initializing the
// working directory configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	Dir          = ".permrevert"
	ConfigFile   = "config"
	DatabaseFile = "ledger.db"
)

// Storage backend names.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config represents the permrevert configuration
type Config struct {
	InstanceARN     string         `toml:"instance_arn"`
	IdentityStoreID string         `toml:"identity_store_id,omitempty"`
	Region          string         `toml:"region,omitempty"`
	Storage         StorageConfig  `toml:"storage"`
	Rollback        RollbackConfig `toml:"rollback"`

	path string // path to .permrevert directory
}

// StorageConfig selects and locates the ledger backend.
type StorageConfig struct {
	Backend string `toml:"backend"` // "json" or "sqlite"
	Root    string `toml:"root,omitempty"`
}

// RollbackConfig tunes rollback execution.
type RollbackConfig struct {
	BatchSize         int     `toml:"batch_size,omitempty"`
	VerificationLevel string  `toml:"verification_level,omitempty"`
	ContinueThreshold float64 `toml:"continue_threshold,omitempty"`
	AbortThreshold    float64 `toml:"abort_threshold,omitempty"`
}

// FindRoot finds the .permrevert directory by walking up from the current
// directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, Dir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a permrevert directory (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .permrevert directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = root
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendJSON
	}
	if c.Rollback.BatchSize <= 0 {
		c.Rollback.BatchSize = 10
	}
	if c.Rollback.VerificationLevel == "" {
		c.Rollback.VerificationLevel = "basic"
	}
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .permrevert directory
func (c *Config) Path() string {
	return c.path
}

// StorageRoot returns the directory holding the JSON ledger documents.
func (c *Config) StorageRoot() string {
	if c.Storage.Root != "" {
		return c.Storage.Root
	}
	return c.path
}

// DatabasePath returns the path to the SQLite ledger database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorageRoot(), DatabaseFile)
}

// Initialize creates a new .permrevert directory with initial configuration
func Initialize(instanceARN, region string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(cwd, Dir)

	// Check if already initialized
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("permrevert directory already exists")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	cfg := &Config{
		InstanceARN: instanceARN,
		Region:      region,
		path:        root,
	}
	cfg.applyDefaults()

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return cfg, nil
}
