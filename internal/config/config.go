// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatai.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.chatai/config.toml
//   - ~/.chatai/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/metrics"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatai configuration.
type Config struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local"`

	// Stream configuration for exchanges
	Stream StreamConfig `toml:"stream" json:"stream"`

	// Server configuration for `chatai serve`
	Server ServerConfig `toml:"server" json:"server"`

	// Storage configuration
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Log configuration
	Log LogConfig `toml:"log" json:"log"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`
	// Timeout bounds metadata requests such as listing models
	Timeout Duration `toml:"timeout" json:"timeout"`
}

// StreamConfig controls how replies are read and delivered.
type StreamConfig struct {
	// Mode is "stream" (NDJSON fragments) or "buffer" (one document)
	Mode string `toml:"mode" json:"mode"`
	// MaxDuration bounds a whole exchange; 0 disables the limit
	MaxDuration Duration `toml:"max_duration" json:"max_duration"`
	// IdleTimeout bounds the gap between chunks; 0 disables the limit
	IdleTimeout Duration `toml:"idle_timeout" json:"idle_timeout"`
	// SnapshotRate caps snapshot deliveries per second; 0 is uncapped
	SnapshotRate float64 `toml:"snapshot_rate" json:"snapshot_rate"`
	// MaxBufferedBytes bounds a buffer-mode reply; 0 uses the 32 MiB default
	MaxBufferedBytes int64 `toml:"max_buffered_bytes" json:"max_buffered_bytes"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	DBPath string `toml:"db_path" json:"db_path"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Debug bool `toml:"debug" json:"debug"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a Go duration string ("2m30s") in
// both TOML and JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare number is read
// as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DefaultModel: ollama.DefaultModel,

		Local: LocalConfig{
			OllamaURL: ollama.DefaultBaseURL,
			Timeout:   Duration(30 * time.Second),
		},

		Stream: StreamConfig{
			Mode:             string(session.ModeStream),
			MaxDuration:      Duration(10 * time.Minute),
			IdleTimeout:      Duration(2 * time.Minute),
			SnapshotRate:     30,
			MaxBufferedBytes: 32 << 20,
		},

		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
		},

		Storage: StorageConfig{
			DBPath: defaultDBPath(),
		},
	}
}

func defaultDBPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "chatai.db"
	}
	return filepath.Join(dir, "chatai.db")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatai configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatai"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
//
// A file that exists but cannot be decoded is reported alongside the
// defaults-based config, so callers can warn and continue.
func Load() (*Config, error) {
	var loadErr error

	for _, candidate := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := candidate()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
		break
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// finish applies env overrides and defaults, then validates.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to a TOML file atomically with 0600
// permissions. Missing parent directories are created.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatai configuration file\n")
	buf.WriteString("# Generated by chatai - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if strings.TrimSpace(c.DefaultModel) == "" {
		errs = append(errs, ValidationError{Field: "default_model", Message: "must not be empty"})
	}

	if u, err := url.Parse(c.Local.OllamaURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "local.ollama_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Local.OllamaURL),
		})
	}
	if c.Local.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "local.timeout", Message: "must not be negative"})
	}

	if _, err := session.ParseMode(c.Stream.Mode); err != nil {
		errs = append(errs, ValidationError{Field: "stream.mode", Message: err.Error()})
	}
	if c.Stream.MaxDuration < 0 {
		errs = append(errs, ValidationError{Field: "stream.max_duration", Message: "must not be negative"})
	}
	if c.Stream.IdleTimeout < 0 {
		errs = append(errs, ValidationError{Field: "stream.idle_timeout", Message: "must not be negative"})
	}
	if c.Stream.MaxDuration > 0 && c.Stream.IdleTimeout > c.Stream.MaxDuration {
		errs = append(errs, ValidationError{
			Field:   "stream.idle_timeout",
			Message: fmt.Sprintf("%s exceeds max_duration %s", c.Stream.IdleTimeout, c.Stream.MaxDuration),
		})
	}
	if c.Stream.SnapshotRate < 0 {
		errs = append(errs, ValidationError{Field: "stream.snapshot_rate", Message: "must not be negative"})
	}
	if c.Stream.MaxBufferedBytes < 0 {
		errs = append(errs, ValidationError{Field: "stream.max_buffered_bytes", Message: "must not be negative"})
	}

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.listen_addr",
			Message: fmt.Sprintf("invalid address '%s': %v", c.Server.ListenAddr, err),
		})
	}

	if strings.TrimSpace(c.Storage.DBPath) == "" {
		errs = append(errs, ValidationError{Field: "storage.db_path", Message: "must not be empty"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero-value fields that have no meaningful zero.
// Durations and the snapshot rate keep zero, which disables them.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = defaults.Local.OllamaURL
	}
	c.Local.OllamaURL = strings.TrimRight(c.Local.OllamaURL, "/")
	if c.Local.Timeout == 0 {
		c.Local.Timeout = defaults.Local.Timeout
	}
	if c.Stream.Mode == "" {
		c.Stream.Mode = defaults.Stream.Mode
	}
	c.Stream.Mode = strings.ToLower(c.Stream.Mode)
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaults.Server.ListenAddr
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = defaults.Storage.DBPath
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OLLAMA_API_URL: overrides local.ollama_url
//   - CHATAI_MODEL: overrides default_model
//   - CHATAI_STREAM_MODE: overrides stream.mode
//   - CHATAI_DB_PATH: overrides storage.db_path
//   - CHATAI_LISTEN: overrides server.listen_addr
//   - CHATAI_DEBUG: set to "1" or "true" to enable debug logging
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("OLLAMA_API_URL"); u != "" {
		c.Local.OllamaURL = u
	}
	if model := os.Getenv("CHATAI_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if mode := os.Getenv("CHATAI_STREAM_MODE"); mode != "" {
		c.Stream.Mode = mode
	}
	if path := os.Getenv("CHATAI_DB_PATH"); path != "" {
		c.Storage.DBPath = path
	}
	if addr := os.Getenv("CHATAI_LISTEN"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if debug := os.Getenv("CHATAI_DEBUG"); debug != "" {
		c.Log.Debug = debug == "1" || strings.EqualFold(debug, "true")
	}
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// SessionConfig returns the exchange configuration described by c.
func (c *Config) SessionConfig(logger *zap.Logger, m *metrics.Metrics) session.Config {
	mode, err := session.ParseMode(c.Stream.Mode)
	if err != nil {
		mode = session.ModeStream
	}
	return session.Config{
		Mode:             mode,
		MaxDuration:      c.Stream.MaxDuration.Std(),
		IdleTimeout:      c.Stream.IdleTimeout.Std(),
		SnapshotRate:     c.Stream.SnapshotRate,
		MaxBufferedBytes: c.Stream.MaxBufferedBytes,
		Logger:           logger,
		Metrics:          m,
	}
}

// ClientConfig returns the Ollama client configuration described by c.
func (c *Config) ClientConfig() *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL:      c.Local.OllamaURL,
		Timeout:      c.Local.Timeout.Std(),
		DefaultModel: c.DefaultModel,
	}
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
