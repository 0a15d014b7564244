package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage struct {
		Path           string        `yaml:"path"`
		BatchSize      int           `yaml:"batch_size"`
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
	} `yaml:"storage"`
	Index struct {
		Workers   int      `yaml:"workers"` // 0 uses every core
		CacheSize int      `yaml:"cache_size"`
		Ignore    []string `yaml:"ignore"`
	} `yaml:"index"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns a usable configuration without any file.
func Default() *Config {
	var cfg Config
	cfg.Storage.Path = ".depgraph/graph.db"
	cfg.Storage.BatchSize = 500
	cfg.Storage.MaxAttempts = 4
	cfg.Storage.InitialBackoff = 200 * time.Millisecond
	cfg.Index.CacheSize = 4096
	cfg.Index.Ignore = []string{".git", "vendor", "node_modules", "testdata", "__pycache__", ".venv", "dist", "build"}
	cfg.Log.Level = "info"
	return &cfg
}

// LoadConfig reads path over Default. A missing file is not an error.
// Environment variables, including those from .env, win over the file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// 3. Override with Environment Variables if present
	if db := os.Getenv("DEPGRAPH_DB"); db != "" {
		cfg.Storage.Path = db
	}
	if workers := os.Getenv("DEPGRAPH_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("DEPGRAPH_WORKERS: %w", err)
		}
		cfg.Index.Workers = n
	}
	if level := os.Getenv("DEPGRAPH_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must not be negative, got %d", c.Index.Workers)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
