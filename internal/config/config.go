package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// APIBaseURL is the root of the home-design backend, e.g. http://localhost:8000/home-design.
	APIBaseURL string `yaml:"api_base_url"`
	// AccessToken is the bearer credential for authenticated requests.
	AccessToken string `yaml:"access_token"`
	// CacheDB is the path of the local SQLite conversation cache.
	CacheDB string `yaml:"cache_db"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ProjectID resumes an existing project on startup. Flag-only.
	ProjectID string `yaml:"-"`
	// Debug enables verbose logging. Flag-only.
	Debug bool `yaml:"-"`
}

// Load builds configuration from defaults, an optional YAML file pointed at
// by DESIGNSYNC_CONFIG_PATH, and environment variable overrides. Flags are
// applied afterwards by the caller.
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL: "http://localhost:8000/home-design",
		CacheDB:    "designsync.db",
		LogLevel:   "info",
	}

	if path := os.Getenv("DESIGNSYNC_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if base := os.Getenv("DESIGNSYNC_API_BASE_URL"); base != "" {
		cfg.APIBaseURL = base
	}
	if token := os.Getenv("DESIGNSYNC_ACCESS_TOKEN"); token != "" {
		cfg.AccessToken = token
	}
	if db := os.Getenv("DESIGNSYNC_CACHE_DB"); db != "" {
		cfg.CacheDB = db
	}
	if level := os.Getenv("DESIGNSYNC_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
