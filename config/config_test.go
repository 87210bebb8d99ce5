package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TWITCH_BOT_USERNAME", "TWITCH_OAUTH_TOKEN", "TWITCH_CHANNELS", "TWITCH_CHANNEL", "TWITCH_SSL", "FLOOD_DELAY", "FLOOD_RATE_NORMAL", "TWITCH_ENCODING", "TWITCH_TRANSPORT"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Anonymous() {
		t.Errorf("expected anonymous config, nick = %q", cfg.Nick)
	}
	if !cfg.SSL || cfg.Encoding != "utf8" {
		t.Errorf("unexpected defaults: ssl=%v encoding=%q", cfg.SSL, cfg.Encoding)
	}
	if got := cfg.FloodInterval(); got != 1500*time.Millisecond {
		t.Errorf("FloodInterval() = %v, want 1.5s", got)
	}
	if cfg.RetryInterval() != 3*time.Second || cfg.ReconnectInterval() != 2*time.Second {
		t.Errorf("unexpected delays: retry=%v reconnect=%v", cfg.RetryInterval(), cfg.ReconnectInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_BOT_USERNAME", "Bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	t.Setenv("TWITCH_CHANNELS", "alpha, beta,,gamma")
	t.Setenv("TWITCH_SSL", "false")
	t.Setenv("FLOOD_DELAY", "10")
	t.Setenv("FLOOD_RATE_NORMAL", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Nick != "Bot" || cfg.Password != "oauth:token" {
		t.Errorf("credentials not applied: %+v", cfg)
	}
	if want := []string{"alpha", "beta", "gamma"}; len(cfg.Channels) != 3 || cfg.Channels[2] != want[2] {
		t.Errorf("Channels = %v, want %v", cfg.Channels, want)
	}
	if cfg.SSL {
		t.Error("TWITCH_SSL=false not applied")
	}
	if got := cfg.FloodInterval(); got != 2*time.Second {
		t.Errorf("FloodInterval() = %v, want 2s", got)
	}
	v, _ := cfg.Snapshot().Get("nick")
	if v != "bot" {
		t.Errorf("snapshot nick = %q, want lower-cased bot", v)
	}
}

func TestLoadLegacySingleChannel(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "solo")
	cfg, _ := Load("")
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "solo" {
		t.Errorf("Channels = %v, want [solo]", cfg.Channels)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLOOD_RATE_NORMAL", "fast")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric FLOOD_RATE_NORMAL")
	}
}

func TestLoadFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "twitcher.yaml",
			content: `nick: yamlbot
channels: [one, two]
flood_delay: 30
flood_rate_normal: 100
plugins:
  - name: relay
    settings:
      subject_prefix: chat
vars:
  prefix: "!"
`,
		},
		{
			name: "toml",
			file: "twitcher.toml",
			content: `nick = "yamlbot"
channels = ["one", "two"]
flood_delay = 30.0
flood_rate_normal = 100

[vars]
prefix = "!"

[[plugins]]
name = "relay"
[plugins.settings]
subject_prefix = "chat"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load(%s) error: %v", tt.file, err)
			}
			if cfg.Nick != "yamlbot" || len(cfg.Channels) != 2 {
				t.Errorf("file values not applied: %+v", cfg)
			}
			if !cfg.SSL || cfg.Encoding != "utf8" {
				t.Errorf("defaults lost under file overlay: ssl=%v encoding=%q", cfg.SSL, cfg.Encoding)
			}
			if got := cfg.FloodInterval(); got != 300*time.Millisecond {
				t.Errorf("FloodInterval() = %v, want 300ms", got)
			}
			p, ok := cfg.Plugin("relay")
			if !ok || p.Settings["subject_prefix"] != "chat" {
				t.Errorf("plugin settings = %+v", p)
			}
			if v, _ := cfg.Snapshot().Get("prefix"); v != "!" {
				t.Errorf("snapshot prefix = %q", v)
			}
			if cfg.Path != path {
				t.Errorf("Path = %q, want %q", cfg.Path, path)
			}
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twitcher.ini")
	if err := os.WriteFile(path, []byte("nick=x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero flood rate", func(c *Config) { c.FloodRateNormal = 0 }},
		{"zero flood delay", func(c *Config) { c.FloodDelay = 0 }},
		{"unknown encoding", func(c *Config) { c.Encoding = "klingon" }},
		{"unknown transport", func(c *Config) { c.Transport = "udp" }},
		{"password without nick", func(c *Config) { c.Password = "oauth:x" }},
		{"nameless plugin", func(c *Config) { c.Plugins = []PluginConfig{{}} }},
		{"negative delay", func(c *Config) { c.RetryDelay = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "twitcher.yaml")
	if err := os.WriteFile(path, []byte("nick: first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	go func() { _ = Watch(ctx, path, func(c *Config) { got <- c }) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("nick: second\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Nick != "second" {
			t.Errorf("reloaded nick = %q, want second", cfg.Nick)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}
