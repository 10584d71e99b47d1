// Package config loads ~/.livechat/config.toml and applies LIVECHAT_*
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration written as "3s" in TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Timing holds every interval the chat client runs on.
type Timing struct {
	PollInterval         Duration `toml:"poll_interval" env:"LIVECHAT_POLL_INTERVAL"`
	AvailabilityInterval Duration `toml:"availability_interval" env:"LIVECHAT_AVAILABILITY_INTERVAL"`
	TypingQuiet          Duration `toml:"typing_quiet" env:"LIVECHAT_TYPING_QUIET"`
	RequestTimeout       Duration `toml:"request_timeout" env:"LIVECHAT_REQUEST_TIMEOUT"`
	AutoReconnect        bool     `toml:"auto_reconnect" env:"LIVECHAT_AUTO_RECONNECT"`
}

// Config represents the global ~/.livechat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile" env:"LIVECHAT_PROFILE"`
	BaseURL        string `toml:"base_url" env:"LIVECHAT_BASE_URL"`
	SocketURL      string `toml:"socket_url,omitempty" env:"LIVECHAT_SOCKET_URL"`
	ProjectID      string `toml:"project_id" env:"LIVECHAT_PROJECT_ID"`
	SourceURL      string `toml:"source_url,omitempty" env:"LIVECHAT_SOURCE_URL"`
	UserAgent      string `toml:"user_agent,omitempty" env:"LIVECHAT_USER_AGENT"`
	Timing         Timing `toml:"timing"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BaseURL:   "http://localhost:8787",
		UserAgent: "livechat-cli",
		Timing: Timing{
			PollInterval:         Duration{3 * time.Second},
			AvailabilityInterval: Duration{30 * time.Second},
			TypingQuiet:          Duration{2 * time.Second},
			RequestTimeout:       Duration{10 * time.Second},
			AutoReconnect:        true,
		},
	}
}

// Load reads config from path on top of the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv reads path if it exists and then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.ProjectID == "" {
		return errors.New("project_id is required")
	}
	for name, d := range map[string]Duration{
		"poll_interval":         c.Timing.PollInterval,
		"availability_interval": c.Timing.AvailabilityInterval,
		"typing_quiet":          c.Timing.TypingQuiet,
		"request_timeout":       c.Timing.RequestTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("timing.%s must be positive", name)
		}
	}
	return nil
}

// LiveURL returns the websocket endpoint, deriving it from base_url when
// socket_url is unset.
func (c *Config) LiveURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	u := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/widget/socket"
}
