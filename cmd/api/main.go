package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/empty-block/vibe-playlist-sub001/internal/app"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/config"
	httpinfra "github.com/empty-block/vibe-playlist-sub001/internal/infra/http"
	applog "github.com/empty-block/vibe-playlist-sub001/internal/infra/log"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer a.Close()

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	mountRoutes(srv.Router, handlers{
		sync:       a.Sync,
		reactions:  a.Reactions,
		music:      a.Music,
		engine:     a.Engine,
		backfill:   a.Backfill,
		signerUUID: cfg.Feed.SignerUUID,
		log:        applog.Component(logger, "api"),
	})

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api: graceful shutdown failed")
	}
}
