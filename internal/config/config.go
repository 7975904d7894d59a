// Package config loads service configuration from PRODLOG_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable.
const Prefix = "PRODLOG"

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageFS       = "fs"
	StoragePostgres = "postgres"
	StorageDrive    = "drive"
)

// Lock backends.
const (
	LockMarker = "marker"
	LockFile   = "file"
	LockRedis  = "redis"
)

// Config holds runtime configuration.
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`
	SubmitRate      float64       `envconfig:"SUBMIT_RATE" default:"2"`
	SubmitBurst     int           `envconfig:"SUBMIT_BURST" default:"5"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"fs"`
	StorageDir     string `envconfig:"STORAGE_DIR" default:"./data"`
	PostgresDSN    string `envconfig:"POSTGRES_DSN"`
	DriveRootID    string `envconfig:"DRIVE_ROOT_ID"`
	DriveCredFile  string `envconfig:"DRIVE_CREDENTIALS_FILE"`

	LockBackend     string        `envconfig:"LOCK_BACKEND" default:"marker"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"10m"`
	LockPoll        time.Duration `envconfig:"LOCK_POLL_INTERVAL" default:"300ms"`
	LockWaitTimeout time.Duration `envconfig:"LOCK_WAIT_TIMEOUT" default:"30s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	JWTSecret   string        `envconfig:"JWT_SECRET"`
	JWTTokenTTL time.Duration `envconfig:"JWT_TOKEN_TTL" default:"12h"`

	RefDataFile string `envconfig:"REFDATA_FILE"`

	// Numbering selects the voucher format: "default" or "legacy".
	Numbering string `envconfig:"NUMBERING" default:"default"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated reads the environment without checking backend settings,
// for callers that apply their own overrides first.
func LoadUnvalidated() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend selections and their required settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case StorageMemory:
	case StorageFS:
		if c.StorageDir == "" {
			errs = append(errs, errors.New("PRODLOG_STORAGE_DIR is required for fs storage"))
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("PRODLOG_POSTGRES_DSN is required for postgres storage"))
		}
	case StorageDrive:
		if c.DriveRootID == "" || c.DriveCredFile == "" {
			errs = append(errs, errors.New("PRODLOG_DRIVE_ROOT_ID and PRODLOG_DRIVE_CREDENTIALS_FILE are required for drive storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}

	if !slices.Contains([]string{LockMarker, LockFile, LockRedis}, c.LockBackend) {
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.LockBackend))
	}
	if c.LockBackend == LockFile && c.StorageBackend != StorageFS {
		errs = append(errs, errors.New("file locks need fs storage"))
	}
	if c.Numbering != "default" && c.Numbering != "legacy" {
		errs = append(errs, fmt.Errorf("unknown numbering %q", c.Numbering))
	}
	return errors.Join(errs...)
}

// ValidateServer adds the checks only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("PRODLOG_JWT_SECRET must be at least 16 bytes")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}
