// Package config loads go-batch settings from defaults, an optional YAML file,
// .env files and GOBATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "GOBATCH_"

const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"

	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config is the full server configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Storage     StorageConfig     `yaml:"storage" envPrefix:"STORAGE_"`
	Logging     LoggingConfig     `yaml:"logging" envPrefix:"LOG_"`
	Collections CollectionsConfig `yaml:"collections" envPrefix:"COLLECTIONS_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	Backend        string        `yaml:"backend" env:"BACKEND"`
	DataDir        string        `yaml:"data_dir" env:"DATA_DIR"`
	SnapshotFile   string        `yaml:"snapshot_file" env:"SNAPSHOT_FILE"`
	BackgroundSave time.Duration `yaml:"background_save" env:"BACKGROUND_SAVE"`
	PostgresURL    string        `yaml:"postgres_url" env:"POSTGRES_URL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type CollectionsConfig struct {
	// Protected names can never be deleted through the API
	Protected []string `yaml:"protected" env:"PROTECTED" envSeparator:","`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      BackendMemory,
			DataDir:      ".",
			SnapshotFile: "go-batch_data.gobj",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatConsole,
		},
		Collections: CollectionsConfig{
			Protected: []string{"My List"},
		},
	}
}

// Load builds a Config. path may be empty; envFiles default to ".env" and
// missing env files are ignored. The result is not validated so callers can
// apply flag overrides first.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Existing process variables win over .env values
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at startup
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendPebble:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage backend %s needs a data directory", c.Storage.Backend)
		}
	case BackendPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage backend postgres needs storage.postgres_url")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.BackgroundSave < 0 {
		return fmt.Errorf("background save interval cannot be negative")
	}

	switch c.Logging.Format {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
