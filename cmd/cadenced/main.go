package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tempohq/cadence/internal/gateway"
	"github.com/tempohq/cadence/internal/rooms"
	"github.com/tempohq/cadence/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	store := rooms.NewStore()
	registry := session.NewRegistry()

	wsConfig := gateway.DefaultConnectionConfig()
	wsConfig.PingInterval = cfg.pingInterval()
	wsConfig.WriteTimeout = cfg.writeTimeout()
	wsConfig.ReadTimeout = cfg.readTimeout()
	wsConfig.MaxMessageSize = cfg.WebSocket.MaxMessageBytes

	connectionManager := gateway.NewConnectionManager(wsConfig, store)
	coordinator := session.NewCoordinator(store, registry, connectionManager)
	connectionManager.SetSession(coordinator)

	wsHandler := gateway.NewWebSocketHandler(connectionManager, store)
	server := setupServer(cfg, wsHandler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go connectionManager.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("cadenced listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging(cfg *Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
