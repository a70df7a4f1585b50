// Command server runs the realtime chat backend: the REST API, the WebSocket
// delivery channel and the subscription expiry sweeper.
//
// @title       Realtime Chat API
// @version     1.0
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-realtime-chat/internal/config"
	httpapi "github.com/tbourn/go-realtime-chat/internal/http"
	"github.com/tbourn/go-realtime-chat/internal/observability"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/subscription"
	"github.com/tbourn/go-realtime-chat/internal/sysutil"
	"github.com/tbourn/go-realtime-chat/internal/worker"
)

var version = "dev"

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log.Logger = sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, nil)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	hub := realtime.NewHub(cfg.Realtime)

	var verifier subscription.Verifier
	if cfg.Subscription.VerifierURL != "" {
		verifier = subscription.NewHTTPVerifier(cfg.Subscription.VerifierURL, cfg.Subscription.VerifierKey)
	} else {
		log.Warn().Msg("SUBSCRIPTION_VERIFIER_URL not set; purchases will be rejected")
	}

	svc := httpapi.BuildServices(db, hub, verifier, cfg)

	var locker worker.Locker
	rdb, err := worker.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	if rdb != nil {
		defer rdb.Close()
		locker = worker.NewRedisLock(rdb, "locks:subscription-sweep", cfg.Subscription.SweepInterval)
	}
	go worker.NewExpirySweeper(svc.Subscriptions, locker, cfg.Subscription.SweepInterval).Run(ctx)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, svc, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
