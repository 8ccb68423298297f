package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/empty-block/vibe-playlist-sub001/internal/app"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/config"
	applog "github.com/empty-block/vibe-playlist-sub001/internal/infra/log"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/backfill"
)

const dateLayout = "2006-01-02"

func main() {
	channel := flag.String("channel", "", "channel id to backfill")
	from := flag.String("from", "", "oldest date to keep, YYYY-MM-DD (inclusive)")
	to := flag.String("to", "", "newest date to keep, YYYY-MM-DD (inclusive)")
	reset := flag.Bool("reset", false, "ignore the saved checkpoint and start over")
	flag.Parse()

	req, err := buildRequest(*channel, *from, *to, *reset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backfill: startup failed")
	}
	defer a.Close()

	res, err := a.Backfill.Run(ctx, req)
	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("channel", res.Channel).
		Int("pages", res.Pages).
		Int("processed", res.Processed).
		Int("total", res.Total).
		Bool("completed", res.Completed).
		Str("cursor", res.Cursor).
		Msg("backfill: run finished")
	if err != nil {
		a.Close()
		os.Exit(1)
	}
}

func buildRequest(channel, from, to string, reset bool) (backfill.Request, error) {
	req := backfill.Request{Channel: channel, Reset: reset}
	if channel == "" {
		return req, fmt.Errorf("-channel is required")
	}
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return req, fmt.Errorf("-from: %w", err)
		}
		req.From = t
	}
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return req, fmt.Errorf("-to: %w", err)
		}
		req.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	return req, nil
}
