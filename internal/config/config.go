// Package config loads and validates the relay service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"duckycap/internal/combo"
	"duckycap/internal/userutil"
)

// maxConfigFileBytes guards against accidentally pointing the relay at
// a huge file; a real configuration is a few kilobytes.
const maxConfigFileBytes int64 = 1 << 20 // 1MB

// DefaultSocket is the well-known relay socket path.
const DefaultSocket = "/run/duckycap.varlink"

// Config is the relay service runtime configuration.
type Config struct {
	// User is the account configured commands run as. Required.
	User string `yaml:"user"`
	// Socket overrides the Unix socket path. Empty means DefaultSocket.
	Socket string `yaml:"socket,omitempty"`
	// DebounceMS overrides the debounce window in milliseconds.
	// 0 means the built-in 500ms default.
	DebounceMS int `yaml:"debounce_ms,omitempty"`
	// HistoryDB, when set, enables the SQLite journal of press
	// decisions at the given path.
	HistoryDB string `yaml:"history_db,omitempty"`
	// Commands maps key-combination specs to scripts.
	Commands []CommandMapping `yaml:"commands,omitempty"`
}

// CommandMapping binds one "+"-joined key-combination spec to an
// absolute script path.
type CommandMapping struct {
	Keys string `yaml:"keys"`
	Path string `yaml:"path"`
}

// osReadFile and osStat are test seams for simulating I/O failures.
var (
	osReadFile = os.ReadFile
	osStat     = os.Stat
)

// Load reads, parses, and validates the configuration at path. Any
// error here is fatal at startup by design.
func Load(path string) (*Config, error) {
	info, err := osStat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s: %w", path, ErrNotRegular)
	}
	if info.Size() > maxConfigFileBytes {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileBytes)
	}

	raw, err := osReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := userutil.ValidateUsername(c.User); err != nil {
		return err
	}
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMS)
	}
	if c.Socket != "" && !filepath.IsAbs(c.Socket) {
		return fmt.Errorf("socket path %q must be absolute", c.Socket)
	}
	if c.HistoryDB != "" && !filepath.IsAbs(c.HistoryDB) {
		return fmt.Errorf("history_db path %q must be absolute", c.HistoryDB)
	}
	for i, m := range c.Commands {
		if _, err := combo.ParseSpec(m.Keys); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
		if m.Path == "" {
			return fmt.Errorf("commands[%d] (%s): path is required", i, m.Keys)
		}
		if !filepath.IsAbs(m.Path) {
			return fmt.Errorf("commands[%d] (%s): path %q must be absolute", i, m.Keys, m.Path)
		}
	}
	return nil
}

// SocketPath returns the configured socket path or the default.
func (c *Config) SocketPath() string {
	if c.Socket == "" {
		return DefaultSocket
	}
	return c.Socket
}

// DebounceWindow returns the configured debounce window; 0 defers to
// the debounce package default.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ErrNotRegular is returned when the config path is not a regular file.
var ErrNotRegular = errors.New("not a regular file")
