// Command relay runs the websocket relay for collaborative editing sessions.
//
// Configuration comes from the environment (optionally via a .env file);
// --host and --port override it. The process refuses to start unless
// WEBSOCKET_ENABLED is true and SECRET_KEY is set.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/mapsync-project/relay/internal/config"
	"github.com/mapsync-project/relay/ws"
)

func main() {
	envFile := pflag.String("env-file", "", "load environment from this file before reading config")
	host := pflag.String("host", "", "bind host (overrides WEBSOCKET_HOST)")
	port := pflag.String("port", "", "bind port (overrides WEBSOCKET_PORT)")
	pflag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("cannot load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	} else if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := config.FromEnv()
	if *host != "" {
		cfg.Host = *host
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("refusing to start", "error", err)
		os.Exit(1)
	}

	checkOrigin := ws.AllOrigins()
	if len(cfg.AllowedOrigins) > 0 {
		checkOrigin = ws.Origins(cfg.AllowedOrigins...)
	}

	serverCfg := ws.NewConfig(cfg.Addr(), []byte(cfg.SecretKey), &ws.RateLimitConfig{
		MessagesPerSecond: rate.Limit(cfg.RateLimit.PerSecond),
		Burst:             cfg.RateLimit.Burst,
		Enabled:           cfg.RateLimit.Enabled,
	}, checkOrigin)
	serverCfg.JoinTimeout = cfg.JoinTimeout
	serverCfg.MaxMessageSize = cfg.MaxMessageSize
	serverCfg.Logger = logger

	server := ws.New(serverCfg)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("relay shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(stopCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
