// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup: with no
// variables at all it serves an empty counter and waits for a channel to be chosen.
// Ledger settings and the channel may also come from a YAML file (CONFIG_FILE) that is
// watched for changes, see Watch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatpoll/ledger"
)

// DefaultChannel is the sentinel for "no channel joined yet".
const DefaultChannel = ""

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Ledger
	Ledger ledger.Settings

	// HTTP
	HTTPAddr string

	// Token storage
	DBDsn         string
	EncryptionKey string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Tracing
	OTLPEndpoint string

	// ConfigFile is the optional YAML overlay, watched for hot reloads.
	ConfigFile string
}

// Load reads environment variables, applies defaults and then overlays CONFIG_FILE when set.
// It doesn't fail if Twitch creds are missing; chat falls back to an anonymous connection.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// reading chat is all the counter needs
		cfg.TwitchScopes = "chat:read"
	}

	cfg.Ledger = ledger.DefaultSettings()
	var err error
	if cfg.Ledger.MaxSize, err = envInt("LEDGER_MAX_SIZE", cfg.Ledger.MaxSize); err != nil {
		return nil, err
	}
	if cfg.Ledger.ExpireAfter, err = envDuration("LEDGER_EXPIRE_AFTER", cfg.Ledger.ExpireAfter); err != nil {
		return nil, err
	}
	if cfg.Ledger.Top, err = envInt("LEDGER_TOP", cfg.Ledger.Top); err != nil {
		return nil, err
	}
	if cfg.Ledger.Threshold, err = envFloat("LEDGER_THRESHOLD", cfg.Ledger.Threshold); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	// Empty DSN keeps OAuth tokens in memory only.
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))
	cfg.LogFile = os.Getenv("LOG_FILE")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.ConfigFile = os.Getenv("CONFIG_FILE")
	if cfg.ConfigFile != "" {
		fc, err := ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		fc.ApplyTo(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range ledger settings.
func (c *Config) Validate() error {
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidateChatReady checks that authenticated chat is configured. Anonymous
// reading works without it.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// OAuthReady reports whether the Twitch login flow can be offered.
func (c *Config) OAuthReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.TwitchRedirectURI != ""
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

// envDuration accepts Go durations ("30s") or bare milliseconds ("30000").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
