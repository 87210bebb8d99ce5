// Package config loads the bot configuration and provides a typed Config used across the service.
// Values come from built-in defaults, then an optional YAML or TOML file, then environment
// variables, so the binary can run anonymously with no setup at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/onnwee/twitcher/irc"
	"github.com/onnwee/twitcher/queue"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// PluginConfig enables one catalog plugin, with its own settings section.
type PluginConfig struct {
	Name     string         `yaml:"name" toml:"name"`
	Settings map[string]any `yaml:"settings" toml:"settings"`
}

type Config struct {
	// Identity. An empty Nick connects anonymously.
	Nick     string   `yaml:"nick" toml:"nick"`
	Password string   `yaml:"password" toml:"password"`
	Channels []string `yaml:"channels" toml:"channels"`

	// Connection
	SSL               bool    `yaml:"ssl" toml:"ssl"`
	Transport         string  `yaml:"transport" toml:"transport"`
	Host              string  `yaml:"host" toml:"host"`
	Port              int     `yaml:"port" toml:"port"`
	WebSocketURL      string  `yaml:"websocket_url" toml:"websocket_url"`
	Encoding          string  `yaml:"encoding" toml:"encoding"`
	LegacyDropPartial bool    `yaml:"legacy_drop_partial" toml:"legacy_drop_partial"`
	RetryDelay        float64 `yaml:"retry_delay" toml:"retry_delay"`         // seconds between failed dials
	ReconnectDelay    float64 `yaml:"reconnect_delay" toml:"reconnect_delay"` // seconds after a lost connection

	// Flood control: FloodRateNormal messages per FloodDelay seconds.
	FloodDelay        float64 `yaml:"flood_delay" toml:"flood_delay"`
	FloodRateNormal   int     `yaml:"flood_rate_normal" toml:"flood_rate_normal"`
	FloodRateElevated int     `yaml:"flood_rate_elevated" toml:"flood_rate_elevated"`

	// Plugins loaded at startup, in order, and extra {placeholder} values for patterns.
	Plugins []PluginConfig    `yaml:"plugins" toml:"plugins"`
	Vars    map[string]string `yaml:"vars" toml:"vars"`

	// Twitch application, used to authorize and refresh stored chat tokens
	TwitchClientID     string `yaml:"twitch_client_id" toml:"twitch_client_id"`
	TwitchClientSecret string `yaml:"twitch_client_secret" toml:"twitch_client_secret"`
	TwitchRedirectURI  string `yaml:"twitch_redirect_uri" toml:"twitch_redirect_uri"`

	// Services
	DBDsn         string `yaml:"db_dsn" toml:"db_dsn"`
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	HTTPAddr      string `yaml:"http_addr" toml:"http_addr"`
	AdminUsername string `yaml:"admin_username" toml:"admin_username"`
	AdminPassword string `yaml:"admin_password" toml:"admin_password"`
	AdminToken    string `yaml:"admin_token" toml:"admin_token"`
	OTLPEndpoint  string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SSL:               true,
		Transport:         "tcp",
		Encoding:          "utf8",
		RetryDelay:        3,
		ReconnectDelay:    2,
		FloodDelay:        30,
		FloodRateNormal:   20,
		FloodRateElevated: 100,
		HTTPAddr:          ":8080",
	}
}

// Load applies defaults, then the file at path (skipped when empty), then the environment.
// It doesn't fail on missing credentials; the bot then connects anonymously.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config file type %q", ErrInvalid, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Nick, "TWITCH_BOT_USERNAME")
	setString(&c.Password, "TWITCH_OAUTH_TOKEN")
	if v := os.Getenv("TWITCH_CHANNELS"); v != "" {
		c.Channels = splitList(v)
	} else if v := os.Getenv("TWITCH_CHANNEL"); v != "" {
		c.Channels = []string{v}
	}
	setString(&c.Encoding, "TWITCH_ENCODING")
	setString(&c.Transport, "TWITCH_TRANSPORT")
	setString(&c.TwitchClientID, "TWITCH_CLIENT_ID")
	setString(&c.TwitchClientSecret, "TWITCH_CLIENT_SECRET")
	setString(&c.TwitchRedirectURI, "TWITCH_REDIRECT_URI")
	setString(&c.DBDsn, "DB_DSN")
	setString(&c.EncryptionKey, "ENCRYPTION_KEY")
	setString(&c.NATSURL, "NATS_URL")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.AdminUsername, "ADMIN_USERNAME")
	setString(&c.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.AdminToken, "ADMIN_TOKEN")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v := os.Getenv("TWITCH_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TWITCH_SSL: %w", err)
		}
		c.SSL = b
	}
	if v := os.Getenv("FLOOD_DELAY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FLOOD_DELAY (seconds): %w", err)
		}
		c.FloodDelay = f
	}
	if v := os.Getenv("FLOOD_RATE_NORMAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FLOOD_RATE_NORMAL: %w", err)
		}
		c.FloodRateNormal = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.FloodDelay <= 0 {
		errs = append(errs, fmt.Errorf("%w: flood_delay must be positive", ErrInvalid))
	}
	if c.FloodRateNormal <= 0 {
		errs = append(errs, fmt.Errorf("%w: flood_rate_normal must be positive", ErrInvalid))
	}
	if c.RetryDelay < 0 || c.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: delays must not be negative", ErrInvalid))
	}
	if _, err := irc.NewCodec(c.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
	}
	switch c.Transport {
	case "", "tcp", "websocket", "ws":
	default:
		errs = append(errs, fmt.Errorf("%w: transport %q (want tcp or websocket)", ErrInvalid, c.Transport))
	}
	if c.Password != "" && c.Nick == "" {
		errs = append(errs, fmt.Errorf("%w: password set without nick", ErrInvalid))
	}
	for i, p := range c.Plugins {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%w: plugins[%d] has no name", ErrInvalid, i))
		}
	}
	return errors.Join(errs...)
}

// Anonymous reports whether the bot connects without credentials.
func (c *Config) Anonymous() bool { return c.Nick == "" }

// FloodInterval is the pause between two outbound lines.
func (c *Config) FloodInterval() time.Duration {
	return queue.Interval(seconds(c.FloodDelay), c.FloodRateNormal)
}

// RetryInterval is the fixed delay between failed connection attempts.
func (c *Config) RetryInterval() time.Duration { return seconds(c.RetryDelay) }

// ReconnectInterval is the delay before redialing after a lost connection.
func (c *Config) ReconnectInterval() time.Duration { return seconds(c.ReconnectDelay) }

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// Snapshot returns the values patterns may reference as {name}.
func (c *Config) Snapshot() irc.Snapshot {
	values := map[string]string{
		"encoding": c.Encoding,
		"nick":     strings.ToLower(c.Nick),
	}
	for k, v := range c.Vars {
		values[k] = v
	}
	return irc.NewSnapshot(values)
}

// Plugin returns the settings section of the named plugin.
func (c *Config) Plugin(name string) (PluginConfig, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginConfig{}, false
}
