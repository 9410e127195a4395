package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mizuki-dev/kaiwa/internal/consts"
)

//go:embed config.toml
var defaultConfig []byte

// Config holds the application configuration.
type Config struct {
	ServerURL      string `toml:"server_url"`
	SearchSettleMS int    `toml:"search_settle_ms"`

	Upload          Upload          `toml:"upload"`
	TypingIndicator TypingIndicator `toml:"typing_indicator"`
}

// Upload controls media upload behavior.
type Upload struct {
	PathPrefix string `toml:"path_prefix"`
}

// TypingIndicator controls whether typing presence is tracked and published.
type TypingIndicator struct {
	Enabled bool `toml:"enabled"`
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, consts.Name, "config.toml")
}

// Load reads the config from the given path. If the file does not exist,
// it writes the default config and loads that. Config loading is two-phase:
// embedded defaults are applied first, then the user file overlays on top.
func Load(path string) (*Config, error) {
	// Phase 1: unmarshal embedded defaults.
	var cfg Config
	if err := toml.Unmarshal(defaultConfig, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}

	// Write default config if file does not exist.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, defaultConfig, 0o600); err != nil {
			return nil, err
		}
	}

	// Phase 2: overlay user file on top of defaults.
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// applyDefaults resolves computed defaults that can't be expressed in TOML.
func applyDefaults(cfg *Config) {
	if cfg.Upload.PathPrefix == "" {
		cfg.Upload.PathPrefix = "chat/public"
	}
}

// validate checks that config values are within acceptable ranges.
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if cfg.SearchSettleMS < 0 || cfg.SearchSettleMS > 10000 {
		return fmt.Errorf("search_settle_ms must be between 0 and 10000, got %d", cfg.SearchSettleMS)
	}
	return nil
}
