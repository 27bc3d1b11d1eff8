// Package config loads the tidebook configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tidebook/tidebook/internal/logger"
)

// Config is the full application configuration.
type Config struct {
	// CompanyID scopes documents and number sequences.
	CompanyID string `mapstructure:"company_id" yaml:"company_id"`

	// LocalDB is the path of the durable cache and sync queue database.
	LocalDB string `mapstructure:"local_db" yaml:"local_db"`

	// RemoteDB is the path of the remote store database.
	RemoteDB string `mapstructure:"remote_db" yaml:"remote_db"`

	// ProbeAddr is the host:port the connectivity prober dials.
	// Empty disables probing; connectivity is then controlled manually.
	ProbeAddr string `mapstructure:"probe_addr" yaml:"probe_addr,omitempty"`

	// ProbeInterval is the time between connectivity probes.
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval,omitempty"`

	// MaxRetries bounds failed replays before an item is parked.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// InboxDir, when set, is watched for dropped document JSON files.
	InboxDir string `mapstructure:"inbox_dir" yaml:"inbox_dir,omitempty"`

	// AllowNegativeBalance permits ledger postings that take an account
	// below zero.
	AllowNegativeBalance bool `mapstructure:"allow_negative_balance" yaml:"allow_negative_balance"`

	Log logger.Config `mapstructure:"log" yaml:"log"`
}

// FileName is the config file expected inside the workspace directory.
const FileName = "tidebook.yaml"

// Default returns the configuration used when no file exists, rooted at dir.
func Default(dir string) Config {
	return Config{
		CompanyID:     "default",
		LocalDB:       filepath.Join(dir, "local.db"),
		RemoteDB:      filepath.Join(dir, "remote.db"),
		ProbeInterval: 15 * time.Second,
		MaxRetries:    3,
		Log:           logger.DefaultConfig(),
	}
}

// Load reads the config file from dir, applying defaults for missing keys.
func Load(dir string) (Config, error) {
	cfg := Default(dir)
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return cfg, fmt.Errorf("failed to check config file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TIDEBOOK")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes a fresh default config file to dir. It refuses to
// overwrite an existing file.
func WriteDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists at %s", path)
	}

	data, err := yaml.Marshal(Default(dir))
	if err != nil {
		return "", fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
