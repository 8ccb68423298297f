package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/empty-block/vibe-playlist-sub001/internal/app"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/config"
	applog "github.com/empty-block/vibe-playlist-sub001/internal/infra/log"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/scheduler"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("syncer: startup failed")
	}
	defer a.Close()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	sched, err := scheduler.New(cfg.TZ, 30*time.Minute, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("syncer: scheduler init failed")
	}
	channelJob := func(ctx context.Context) error {
		a.Sync.Tick(ctx)
		return nil
	}
	reactionJob := func(ctx context.Context) error {
		_, err := a.Reactions.RunOnce(ctx)
		return err
	}
	if err := sched.AddJob("channel_sync", cfg.Sync.Schedule, channelJob); err != nil {
		logger.Fatal().Err(err).Msg("syncer: channel sync job")
	}
	if err := sched.AddJob("reactions", cfg.Reactions.Schedule, reactionJob); err != nil {
		logger.Fatal().Err(err).Msg("syncer: reactions job")
	}
	sched.Start()
	go sched.RunNow("channel_sync", channelJob)

	logger.Info().Msg("syncer: started")
	<-ctx.Done()
	logger.Info().Msg("syncer: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("syncer: jobs did not finish in time")
	}
}
