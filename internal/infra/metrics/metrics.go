package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CastsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casts_ingested_total",
		Help: "Количество сохранённых кастов",
	}, []string{"channel", "source"})
	IngestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Ошибки при сохранении кастов",
	}, []string{"stage"})
	ChannelSyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_runs_total",
		Help: "Запуски синхронизации каналов",
	}, []string{"channel", "status"})
	ReactionsReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactions_reconciled_total",
		Help: "Добавленные при сверке реакции",
	}, []string{"kind"})
	ReactionCastsChanged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaction_casts_changed_total",
		Help: "Касты с изменившимися счётчиками реакций",
	})
	MusicTracksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tracks_processed_total",
		Help: "Обработанные музыкальные ссылки",
	}, []string{"platform", "status"})
	BackfillPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_pages_total",
		Help: "Обработанные страницы исторической выгрузки",
	}, []string{"channel"})
	SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "Длительность прогонов воркеров",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CastsIngested,
		IngestErrors,
		ChannelSyncRuns,
		ReactionsReconciled,
		ReactionCastsChanged,
		MusicTracksProcessed,
		BackfillPages,
		SyncDuration,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveSync записывает длительность прогона воркера.
func ObserveSync(worker string, start time.Time) {
	SyncDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}
