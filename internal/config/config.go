// Package config holds the runtime configuration of a dtable session and
// of the table node binary.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Mode selects the backend tables are opened with.
type Mode string

const (
	// ModeStandalone runs every table operation against the store.
	ModeStandalone Mode = "standalone"
	// ModeEngine keeps live table data in the in-memory engine.
	ModeEngine Mode = "engine"
)

// Config is the root configuration.
type Config struct {
	Mode              Mode         `yaml:"mode"`
	JobID             string       `yaml:"job_id"`
	DefaultPartitions int          `yaml:"default_partitions"`
	Store             StoreConfig  `yaml:"store"`
	Engine            EngineConfig `yaml:"engine"`
	Logger            LoggerConfig `yaml:"logger"`
	Server            ServerConfig `yaml:"server"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // memory | bolt
	Path    string `yaml:"path"`
}

type EngineConfig struct {
	Parallelism int `yaml:"parallelism"`
	ChunkSize   int `yaml:"chunk_size"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Mode:              ModeEngine,
		DefaultPartitions: 4,
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "./data",
		},
		Engine: EngineConfig{
			Parallelism: 4,
			ChunkSize:   100000,
		},
		Logger: LoggerConfig{
			Level: "INFO",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an
// error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the config for values no component can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeStandalone, ModeEngine:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeStandalone, ModeEngine, c.Mode))
	}
	if c.DefaultPartitions <= 0 {
		errs = append(errs, fmt.Errorf("default_partitions must be positive, got %d", c.DefaultPartitions))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendBolt, c.Store.Backend))
	}
	if c.Engine.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("engine.parallelism must not be negative, got %d", c.Engine.Parallelism))
	}
	if c.Engine.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("engine.chunk_size must not be negative, got %d", c.Engine.ChunkSize))
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level. An empty level means INFO.
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger.level: %w", err)
	}
	return level, nil
}
