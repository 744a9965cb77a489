// Package config defines the relay's runtime configuration, loaded from the
// environment with sane defaults.
package config

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimit defines the parameters for per-connection inbound rate limiting.
type RateLimit struct {
	PerSecond float64
	Burst     int
	Enabled   bool
}

// Config holds the relay's process configuration.
type Config struct {
	// Enabled gates whether the relay starts at all. The binary refuses
	// to run and exits nonzero when it is false.
	Enabled bool

	Host      string
	Port      string
	SecretKey string

	// AllowedOrigins lists the origins accepted during the websocket
	// handshake. Empty means gorilla's same-host default applies.
	AllowedOrigins []string

	MaxMessageSize int64
	RateLimit      RateLimit
	JoinTimeout    time.Duration
	LogLevel       slog.Level
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Enabled:        false,
		Host:           "127.0.0.1",
		Port:           "8012",
		MaxMessageSize: 1 << 20,
		RateLimit: RateLimit{
			PerSecond: 100,
			Burst:     200,
			Enabled:   true,
		},
		JoinTimeout: 10 * time.Second,
		LogLevel:    slog.LevelInfo,
	}
}

// FromEnv builds a Config from environment variables, falling back to the
// defaults for anything unset or unparsable.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("WEBSOCKET_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = enabled
		}
	}
	if v := os.Getenv("WEBSOCKET_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("WEBSOCKET_PORT"); v != "" {
		cfg.Port = v
	}
	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.MaxMessageSize = size
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		if perSecond, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.PerSecond = perSecond
			cfg.RateLimit.Enabled = perSecond > 0
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil && burst > 0 {
			cfg.RateLimit.Burst = burst
		}
	}
	if v := os.Getenv("JOIN_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			cfg.JoinTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLevel(v)
	}

	return cfg
}

// Addr returns the host:port the relay binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate reports configuration that cannot run.
func (c Config) Validate() error {
	if !c.Enabled {
		return errors.New("WEBSOCKET_ENABLED must be set to true to run the relay")
	}
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY must be set: the relay cannot verify capability tokens without it")
	}
	return nil
}

func parseList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
