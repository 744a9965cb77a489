// Package ws is the public entry point for embedding the relay.
package ws

import (
	"net/http"

	"github.com/mapsync-project/relay"
	"github.com/mapsync-project/relay/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type ServerConfig = *websocket.ServerConfig

// New creates a relay server from the given configuration.
//
// Example:
//
//	cfg := ws.NewConfig("127.0.0.1:8012", secret, ws.DefaultRateLimitConfig(), ws.AllOrigins())
//	server := ws.New(cfg)
//	server.Start(ctx)
func New(cfg ServerConfig) relay.Server {
	return websocket.New(cfg)
}

// NewConfig assembles a server configuration. Optional knobs (join timeout,
// max frame size, logger) can be set on the returned config before New.
func NewConfig(addr string, secret []byte, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:            addr,
		Secret:          secret,
		RateLimitConfig: rateLimitConfig,
		CheckOrigin:     checkOrigin,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins.
// Development only; production deployments should pin their origins.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// Origins returns a checkOrigin function that allows exactly the given
// origins.
func Origins(allowed ...string) CheckOriginFn {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
