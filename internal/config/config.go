// Package config provides configuration management for the IDE memory
// server.
//
// Settings are layered, later sources overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file, named by --config or IDE_MEMORY_CONFIG
//  3. a .env file in the working directory and IDE_MEMORY_* environment
//     variables, e.g. IDE_MEMORY_STORAGE_DATABASE_PATH
//  4. command-line flags, applied by the caller after Load
//
// Call Validate once every source has been applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/ide-memory/internal/logging"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "IDE_MEMORY"

// EnvConfigFile names the environment variable holding the YAML file path.
const EnvConfigFile = EnvPrefix + "_CONFIG"

// Storage engines.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds all configuration settings.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Backup    BackupConfig    `yaml:"backup"`
}

// StorageConfig selects and locates the knowledge store.
type StorageConfig struct {
	Engine       string `yaml:"engine" split_words:"true"`        // sqlite or postgres (default: sqlite)
	DatabasePath string `yaml:"database_path" split_words:"true"` // SQLite file (default: memory.db)
	PostgresDSN  string `yaml:"postgres_dsn" split_words:"true"`  // required when Engine is postgres
}

// ServerConfig contains protocol server settings.
type ServerConfig struct {
	Transport      string `yaml:"transport" split_words:"true"`        // stdio or http (default: stdio)
	Port           int    `yaml:"port" split_words:"true"`             // HTTP port (default: 3000)
	MaxSearchLimit int    `yaml:"max_search_limit" split_words:"true"` // mem_search clamp (default: 100)
}

// MetricsConfig controls request metrics collection.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" split_words:"true"`
	DatabasePath string `yaml:"database_path" split_words:"true"` // empty derives from Storage.DatabasePath
}

// LoggingConfig controls the stderr logger.
type LoggingConfig struct {
	Level       string `yaml:"level" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

// TelemetryConfig configures error reporting. An empty SentryDSN disables it.
type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn" split_words:"true"`
	Environment string `yaml:"environment" split_words:"true"`
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	Dir    string `yaml:"dir" split_words:"true"`    // snapshot directory (default: backups)
	Keep   int    `yaml:"keep" split_words:"true"`   // snapshots retained after pruning (default: 10)
	Verify bool   `yaml:"verify" split_words:"true"` // integrity-check each snapshot (default: true)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:       EngineSQLite,
			DatabasePath: "memory.db",
		},
		Server: ServerConfig{
			Transport:      TransportStdio,
			Port:           3000,
			MaxSearchLimit: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		Telemetry: TelemetryConfig{
			Environment: "production",
		},
		Backup: BackupConfig{
			Dir:    "backups",
			Keep:   10,
			Verify: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or the file
// named by IDE_MEMORY_CONFIG when path is empty), a .env file and the
// environment. A missing .env file is not an error; a missing YAML file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case EngineSQLite:
		if c.Storage.DatabasePath == "" {
			return errors.New("config: storage.database_path is required for the sqlite engine")
		}
	case EnginePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: storage.postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q (want %s or %s)", c.Storage.Engine, EngineSQLite, EnginePostgres)
	}

	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: unknown transport %q (want %s or %s)", c.Server.Transport, TransportStdio, TransportHTTP)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Server.MaxSearchLimit < 1 {
		return fmt.Errorf("config: max_search_limit must be positive, got %d", c.Server.MaxSearchLimit)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Backup.Keep < 1 {
		return fmt.Errorf("config: backup.keep must be positive, got %d", c.Backup.Keep)
	}
	return nil
}

// MetricsPath returns the metrics database path. Unless set explicitly it
// sits next to the knowledge database with a _metrics suffix, so memory.db
// pairs with memory_metrics.db. With the postgres engine the default is
// metrics.db in the working directory.
func (c *Config) MetricsPath() string {
	if c.Metrics.DatabasePath != "" {
		return c.Metrics.DatabasePath
	}
	if c.Storage.Engine == EnginePostgres || c.Storage.DatabasePath == "" {
		return "metrics.db"
	}
	if strings.Contains(c.Storage.DatabasePath, ":memory:") || strings.Contains(c.Storage.DatabasePath, "mode=memory") {
		return ":memory:"
	}

	dbPath := strings.TrimPrefix(c.Storage.DatabasePath, "file:")
	if i := strings.IndexByte(dbPath, '?'); i >= 0 {
		dbPath = dbPath[:i]
	}
	dir, base := filepath.Split(dbPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_metrics.db")
}
