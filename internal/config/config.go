// Package config loads the agent configuration from an optional YAML file
// with environment overrides on top. Every field has a usable default, so a
// bare `sigmap` start with no file and no environment works.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Prefs   PrefsConfig   `yaml:"prefs"`
	Map     MapConfig     `yaml:"map"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the local HTTP listener the UI talks to.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig controls the outbound lookup client.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PrefsConfig controls where preferences and saved locations persist.
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// MapConfig tunes the recenter zoom floors.
type MapConfig struct {
	ZoomFloorQuery    int `yaml:"zoom_floor_query"`
	ZoomFloorActivate int `yaml:"zoom_floor_activate"`
	ZoomFloorSaved    int `yaml:"zoom_floor_saved"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: "127.0.0.1:8090"},
		Backend: BackendConfig{URL: "http://127.0.0.1:5000", Timeout: 30 * time.Second},
		Prefs:   PrefsConfig{Path: defaultPrefsPath()},
		Map:     MapConfig{ZoomFloorQuery: 14, ZoomFloorActivate: 16, ZoomFloorSaved: 15},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path if one exists, then environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = envOr("SIGMAP_ADDR", cfg.Server.Addr)
	cfg.Backend.URL = envOr("SIGMAP_BACKEND_URL", cfg.Backend.URL)
	cfg.Prefs.Path = envOr("SIGMAP_PREFS_PATH", cfg.Prefs.Path)
	cfg.Logging.Level = envOr("SIGMAP_LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("SIGMAP_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("SIGMAP_ZOOM_FLOOR_QUERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Map.ZoomFloorQuery = n
		}
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must not be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Prefs.Path == "" {
		return fmt.Errorf("prefs.path must not be empty")
	}
	return nil
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sigmap.db"
	}
	return dir + "/sigmap/prefs.db"
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
