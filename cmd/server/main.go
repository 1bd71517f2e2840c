// Command server runs the chat presence service: the socket gateway at /ws
// and the presence, call history and system endpoints under API_BASE_PATH.
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
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-chat-presence/docs" // registers the swagger doc
	"github.com/tbourn/go-chat-presence/internal/app"
	"github.com/tbourn/go-chat-presence/internal/config"
	"github.com/tbourn/go-chat-presence/internal/observability"
	"github.com/tbourn/go-chat-presence/internal/repo"
	"github.com/tbourn/go-chat-presence/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownGrace = 15 * time.Second

// @title       Chat Presence API
// @version     1.0
// @description Presence, call history and system health for the real-time chat core.
// @BasePath    /api/v1
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	service := cfg.OTEL.ServiceName
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, service, cfg.LogPretty)
	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(repo.Options{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN, Tracing: cfg.OTEL.Enabled})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	a, err := app.New(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	loops := make(chan error, 1)
	go func() { loops <- a.Run(ctx) }()

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", ver).
			Str("db", cfg.DB.Driver).
			Bool("redis_mirror", a.Mirror != nil).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Hijacked sockets are invisible to Shutdown; close them through the hub.
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("app close")
	}
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := <-loops; err != nil {
		log.Warn().Err(err).Msg("background loop")
	}
	if err := shutdownOTel(shCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited")
}
