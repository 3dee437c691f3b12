// Package config provides configuration loading and defaults for the
// workerhost daemon.
//
// Configuration is loaded from a TOML file in the data directory. It covers
// the diagnostic log, the fetch interception listener, and the two push
// sources (local socket and inbox directory).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/workerhost/internal/paths"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// ErrUnsupportedVersion is returned for config files written by a newer build.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Log holds diagnostic channel settings.
	Log LogConfig `toml:"log"`
	// Fetch holds the fetch interception listener settings.
	Fetch FetchConfig `toml:"fetch"`
	// Push holds the push socket settings.
	Push PushConfig `toml:"push"`
	// Inbox holds the event drop directory settings.
	Inbox InboxConfig `toml:"inbox"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Console also writes every log line to stderr.
	Console bool `toml:"console"`
}

// FetchConfig holds settings for the HTTP listener that turns requests into
// fetch events.
type FetchConfig struct {
	// Enabled starts the listener.
	Enabled bool `toml:"enabled"`
	// Listen is the host:port address to bind.
	Listen string `toml:"listen"`
	// Scope is a doublestar glob matched against the request path. Requests
	// outside it are not dispatched to the worker.
	Scope string `toml:"scope"`
	// Upstream is the base URL requests are forwarded to when no listener answers.
	Upstream string `toml:"upstream"`
	// RetryMax is the number of retries for upstream requests.
	RetryMax int `toml:"retry_max"`
	// TimeoutSeconds bounds each upstream attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// PushConfig holds settings for the local push message socket.
type PushConfig struct {
	// Enabled starts the socket listener.
	Enabled bool `toml:"enabled"`
	// Socket overrides the endpoint: a socket path on Unix, a pipe name on Windows.
	Socket string `toml:"socket,omitempty"`
}

// InboxConfig holds settings for the event drop directory.
type InboxConfig struct {
	// Enabled starts the directory watcher.
	Enabled bool `toml:"enabled"`
	// PollIntervalSeconds is the scan interval when fsnotify is unavailable.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Console:   true,
		},
		Fetch: FetchConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:8787",
			Scope:          "/**",
			RetryMax:       2,
			TimeoutSeconds: 10,
		},
		Push: PushConfig{
			Enabled: true,
		},
		Inbox: InboxConfig{
			Enabled:             true,
			PollIntervalSeconds: 2,
		},
	}
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing, zero, or unparsable.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// Load reads and parses dataDir/config.toml over the defaults. A missing
// file yields [DefaultConfig].
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if v := PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("%w: file is v%d, this build reads up to v%d", ErrUnsupportedVersion, v, CurrentVersion)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key ignored", "key", key.String())
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Fetch.Enabled {
		if _, _, err := net.SplitHostPort(c.Fetch.Listen); err != nil {
			return fmt.Errorf("invalid fetch.listen %q: %w", c.Fetch.Listen, err)
		}
		if !strings.HasPrefix(c.Fetch.Scope, "/") || !doublestar.ValidatePattern(c.Fetch.Scope) {
			return fmt.Errorf("invalid fetch.scope %q: must be a glob starting with /", c.Fetch.Scope)
		}
		if c.Fetch.Upstream != "" {
			u, err := url.Parse(c.Fetch.Upstream)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid fetch.upstream %q: must be an absolute http(s) URL", c.Fetch.Upstream)
			}
		}
		if c.Fetch.RetryMax < 0 {
			return fmt.Errorf("fetch.retry_max must be >= 0, got %d", c.Fetch.RetryMax)
		}
		if c.Fetch.TimeoutSeconds <= 0 {
			return fmt.Errorf("fetch.timeout_seconds must be > 0, got %d", c.Fetch.TimeoutSeconds)
		}
	}

	if c.Inbox.Enabled && c.Inbox.PollIntervalSeconds <= 0 {
		return fmt.Errorf("inbox.poll_interval_seconds must be > 0, got %d", c.Inbox.PollIntervalSeconds)
	}
	return nil
}

// ///////////////////////////////////////////////
// Scope Helpers
// ///////////////////////////////////////////////

// InScope reports whether a request path falls under fetch.scope.
func (c *Config) InScope(path string) bool {
	matched, err := doublestar.Match(c.Fetch.Scope, path)
	if err != nil {
		slog.Warn("invalid glob pattern", "pattern", c.Fetch.Scope, "error", err)
		return false
	}
	return matched
}

// SocketPath returns the configured push endpoint, falling back to the
// data directory default.
func (c *Config) SocketPath(d paths.DataDir) string {
	if c.Push.Socket != "" {
		return c.Push.Socket
	}
	return d.Socket()
}
