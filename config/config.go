package config

import (
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds the connection settings the mutation buffer reads.
type Config struct {
	// Ceiling for buffered rows across non-index tables.
	MaxMutationSize int `toml:"max-mutation-size"`
	// Index descriptor plus transaction state larger than this many bytes
	// is pushed to the server cache instead of being sent inline.
	IndexMetadataCacheThreshold int `toml:"index-metadata-cache-threshold"`
	// A batch must also carry more mutations than this to use the cache.
	IndexMutateBatchThreshold int `toml:"index-mutate-batch-threshold"`

	// AutoCommit means the statement layer already validated the schema.
	AutoCommit bool `toml:"auto-commit"`
	// SCN pins every write and read to a historical time. 0 is unset.
	SCN      uint64 `toml:"scn"`
	TenantID string `toml:"tenant-id"`
	LogLevel string `toml:"log-level"`
}

const (
	DefaultMaxMutationSize             = 500000
	DefaultIndexMetadataCacheThreshold = 1024
	DefaultIndexMutateBatchThreshold   = 5
)

func DefaultConf() *Config {
	return &Config{
		MaxMutationSize:             DefaultMaxMutationSize,
		IndexMetadataCacheThreshold: DefaultIndexMetadataCacheThreshold,
		IndexMutateBatchThreshold:   DefaultIndexMutateBatchThreshold,
		LogLevel:                    "warn",
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	c := DefaultConf()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.MaxMutationSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max-mutation-size must be positive, got %d", c.MaxMutationSize)
	}
	if c.IndexMetadataCacheThreshold < 0 {
		return errors.Wrapf(ErrInvalidConfig, "index-metadata-cache-threshold must not be negative, got %d", c.IndexMetadataCacheThreshold)
	}
	if c.IndexMutateBatchThreshold < 0 {
		return errors.Wrapf(ErrInvalidConfig, "index-mutate-batch-threshold must not be negative, got %d", c.IndexMutateBatchThreshold)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Historical reports whether writes are pinned to SCN.
func (c *Config) Historical() bool {
	return c.SCN != 0
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Wrapf(ErrInvalidConfig, "unknown log level %q", s)
	}
}
