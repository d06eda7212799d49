// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/chatai/internal/session"
)

// clearEnv isolates a test from the caller's environment and home directory.
func clearEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"OLLAMA_API_URL", "CHATAI_MODEL", "CHATAI_STREAM_MODE", "CHATAI_DB_PATH", "CHATAI_LISTEN", "CHATAI_DEBUG"} {
		t.Setenv(key, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_Default(t *testing.T) {
	home := clearEnv(t)
	cfg := Default()

	if cfg.DefaultModel != "llama3.2" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
	if cfg.Stream.Mode != "stream" {
		t.Errorf("Stream.Mode = %q", cfg.Stream.Mode)
	}
	if cfg.Stream.MaxDuration.Std() != 10*time.Minute || cfg.Stream.IdleTimeout.Std() != 2*time.Minute {
		t.Errorf("stream limits = %s / %s", cfg.Stream.MaxDuration, cfg.Stream.IdleTimeout)
	}
	if want := filepath.Join(home, ".chatai", "chatai.db"); cfg.Storage.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.Storage.DBPath, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty model", func(c *Config) { c.DefaultModel = " " }, "default_model"},
		{"bad scheme", func(c *Config) { c.Local.OllamaURL = "ftp://host" }, "local.ollama_url"},
		{"no host", func(c *Config) { c.Local.OllamaURL = "http://" }, "local.ollama_url"},
		{"bad mode", func(c *Config) { c.Stream.Mode = "chunked" }, "stream.mode"},
		{"negative max", func(c *Config) { c.Stream.MaxDuration = -1 }, "stream.max_duration"},
		{"negative idle", func(c *Config) { c.Stream.IdleTimeout = -1 }, "stream.idle_timeout"},
		{"idle over max", func(c *Config) {
			c.Stream.MaxDuration = Duration(time.Second)
			c.Stream.IdleTimeout = Duration(time.Minute)
		}, "stream.idle_timeout"},
		{"negative rate", func(c *Config) { c.Stream.SnapshotRate = -1 }, "stream.snapshot_rate"},
		{"negative buffer limit", func(c *Config) { c.Stream.MaxBufferedBytes = -1 }, "stream.max_buffered_bytes"},
		{"bad listen", func(c *Config) { c.Server.ListenAddr = "8080" }, "server.listen_addr"},
		{"empty db", func(c *Config) { c.Storage.DBPath = "" }, "storage.db_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() = %v, want ValidateErrors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verrs)
			}
		})
	}
}

func TestConfig_ZeroLimitsAreValid(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Stream.MaxDuration = 0
	cfg.Stream.IdleTimeout = 0
	cfg.Stream.SnapshotRate = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero limits should be valid: %v", err)
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
default_model = "qwen2.5:7b"

[local]
ollama_url = "http://gpu-box:11434/"

[stream]
mode = "BUFFER"
max_duration = "90s"
idle_timeout = 15
snapshot_rate = 0.0

[server]
listen_addr = ":9090"

[log]
debug = true
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.DefaultModel != "qwen2.5:7b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://gpu-box:11434" {
		t.Errorf("OllamaURL = %q, trailing slash should be trimmed", cfg.Local.OllamaURL)
	}
	if cfg.Stream.Mode != "buffer" {
		t.Errorf("Mode = %q", cfg.Stream.Mode)
	}
	if cfg.Stream.MaxDuration.Std() != 90*time.Second {
		t.Errorf("MaxDuration = %s", cfg.Stream.MaxDuration)
	}
	if cfg.Stream.IdleTimeout.Std() != 15*time.Second {
		t.Errorf("IdleTimeout = %s, bare numbers are seconds", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.SnapshotRate != 0 {
		t.Errorf("SnapshotRate = %v, explicit zero should be kept", cfg.Stream.SnapshotRate)
	}
	if cfg.Server.ListenAddr != ":9090" || !cfg.Log.Debug {
		t.Errorf("server/log = %q / %v", cfg.Server.ListenAddr, cfg.Log.Debug)
	}
	if cfg.Local.Timeout.Std() != 30*time.Second {
		t.Errorf("unset fields keep defaults, Timeout = %s", cfg.Local.Timeout)
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"default_model":"mistral","stream":{"idle_timeout":"45s"}}`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.DefaultModel != "mistral" || cfg.Stream.IdleTimeout.Std() != 45*time.Second {
		t.Errorf("got %q / %s", cfg.DefaultModel, cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.Mode != "stream" {
		t.Errorf("Mode = %q", cfg.Stream.Mode)
	}
}

func TestLoadFromPath_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := LoadFromPath(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "default_model = \n")
	if _, err := LoadFromPath(bad); err == nil {
		t.Error("malformed TOML should fail")
	}

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[stream]\nmode = \"chunked\"\n")
	_, err := LoadFromPath(invalid)
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Errorf("invalid values should return ValidateErrors, got %v", err)
	}

	dur := filepath.Join(dir, "dur.toml")
	writeFile(t, dur, "[stream]\nmax_duration = \"soon\"\n")
	if _, err := LoadFromPath(dur); err == nil {
		t.Error("bad duration should fail")
	}
}

func TestLoad_FallbackOrder(t *testing.T) {
	home := clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() without files: %v", err)
	}
	if cfg.DefaultModel != "llama3.2" {
		t.Errorf("defaults expected, got %q", cfg.DefaultModel)
	}

	writeFile(t, filepath.Join(home, ".chatai", "config.json"), `{"default_model":"from-json"}`)
	cfg, err = Load()
	if err != nil || cfg.DefaultModel != "from-json" {
		t.Errorf("JSON fallback: %v / %q", err, cfg.DefaultModel)
	}

	writeFile(t, filepath.Join(home, ".chatai", "config.toml"), `default_model = "from-toml"`)
	cfg, err = Load()
	if err != nil || cfg.DefaultModel != "from-toml" {
		t.Errorf("TOML preferred: %v / %q", err, cfg.DefaultModel)
	}

	writeFile(t, filepath.Join(home, ".chatai", "config.toml"), `default_model = `)
	cfg, err = Load()
	if err == nil {
		t.Error("broken file should be reported")
	}
	if cfg == nil || cfg.DefaultModel != "llama3.2" {
		t.Error("broken file should still return defaults")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_API_URL", "http://remote:11434")
	t.Setenv("CHATAI_MODEL", "phi3")
	t.Setenv("CHATAI_STREAM_MODE", "buffer")
	t.Setenv("CHATAI_DB_PATH", "/tmp/x.db")
	t.Setenv("CHATAI_LISTEN", "0.0.0.0:1234")
	t.Setenv("CHATAI_DEBUG", "TRUE")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Local.OllamaURL != "http://remote:11434" || cfg.DefaultModel != "phi3" ||
		cfg.Stream.Mode != "buffer" || cfg.Storage.DBPath != "/tmp/x.db" ||
		cfg.Server.ListenAddr != "0.0.0.0:1234" || !cfg.Log.Debug {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := Default()
	cfg.DefaultModel = "gemma2"
	cfg.Stream.IdleTimeout = Duration(45 * time.Second)
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `idle_timeout = "45s"`) {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestSessionConfig(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Stream.Mode = "buffer"
	cfg.Stream.SnapshotRate = 5
	cfg.Stream.MaxBufferedBytes = 1 << 20

	sc := cfg.SessionConfig(nil, nil)
	if sc.Mode != session.ModeBuffer || sc.SnapshotRate != 5 || sc.MaxBufferedBytes != 1<<20 {
		t.Errorf("SessionConfig = %+v", sc)
	}
	if sc.MaxDuration != 10*time.Minute || sc.IdleTimeout != 2*time.Minute {
		t.Errorf("limits = %s / %s", sc.MaxDuration, sc.IdleTimeout)
	}

	cc := cfg.ClientConfig()
	if cc.BaseURL != cfg.Local.OllamaURL || cc.DefaultModel != cfg.DefaultModel || cc.Timeout != 30*time.Second {
		t.Errorf("ClientConfig = %+v", cc)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1m30s", 90 * time.Second, true},
		{"2.5", 2500 * time.Millisecond, true},
		{"", 0, true},
		{"0", 0, true},
		{"later", 0, false},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalText([]byte(tt.in))
		if (err == nil) != tt.ok {
			t.Errorf("UnmarshalText(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && d.Std() != tt.want {
			t.Errorf("UnmarshalText(%q) = %s, want %s", tt.in, d, tt.want)
		}
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `default_model = "first"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c }, WatchOptions{
			Debounce: 20 * time.Millisecond,
			OnError:  func(err error) { errs <- err },
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `[stream]
mode = "chunked"`)
	select {
	case <-errs:
	case c := <-changes:
		t.Fatalf("invalid config should not be applied, got %q", c.Stream.Mode)
	case <-time.After(3 * time.Second):
		t.Fatal("invalid config was not reported")
	}

	writeFile(t, path, `default_model = "second"`)
	select {
	case c := <-changes:
		if c.DefaultModel != "second" {
			t.Errorf("DefaultModel = %q", c.DefaultModel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.toml"), func(*Config) {}, WatchOptions{})
	if err == nil {
		t.Error("watching a missing directory should fail")
	}
}
