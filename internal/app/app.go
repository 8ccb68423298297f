package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/adapters/neynar"
	"github.com/empty-block/vibe-playlist-sub001/internal/adapters/opengraph"
	"github.com/empty-block/vibe-playlist-sub001/internal/adapters/repo"
	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/cache"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/config"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/db"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/queue"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/ratelimit"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/retry"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/backfill"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/channelsync"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/reactions"
)

// App собранный граф зависимостей процесса.
type App struct {
	Config config.AppConfig
	Log    zerolog.Logger

	Pool  *pgxpool.Pool
	Repo  *repo.Postgres
	Redis *redis.Client
	Feed  *neynar.Client

	Music     *music.Service
	Engine    *ingest.Engine
	Sync      *channelsync.Worker
	Reactions *reactions.Worker
	Backfill  *backfill.Service

	closers []func() error
}

// New подключается к хранилищам, применяет схему и собирает сервисы.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	channels, err := cfg.ChannelConfigs()
	if err != nil {
		return nil, fmt.Errorf("каналы синхронизации: %w", err)
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	a := &App{Config: cfg, Log: logger, Pool: pool, Repo: repo.NewPostgres(pool)}

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("подключение к redis: %w", err)
		}
	}

	realClock := clock.Real{}
	throttle := ratelimit.NewThrottle(realClock, cfg.Feed.MinInterval)
	a.Feed, err = neynar.New(cfg.Feed.BaseURL, cfg.Feed.APIKey, throttle,
		neynar.WithTimeout(cfg.Feed.Timeout),
		neynar.WithRetryPolicy(retry.Policy{MaxAttempts: cfg.Feed.MaxAttempts, BaseDelay: cfg.Feed.RetryBaseDelay}),
		neynar.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("клиент ленты: %w", err)
	}

	var og domain.OGFetcher = opengraph.NewFetcher(&http.Client{}, opengraph.Config{
		Timeout:   cfg.OpenGraph.Timeout,
		Retries:   cfg.OpenGraph.Retries,
		UserAgent: cfg.OpenGraph.UserAgent,
	}, logger)
	if a.Redis != nil {
		og = opengraph.NewCachedFetcher(og, cache.NewRedis(a.Redis, "vibe:"), cfg.OpenGraph.CacheTTL, logger)
	}

	enrichment, err := a.enrichmentQueue()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Music = music.NewService(a.Repo, enrichment, og, realClock, logger)
	a.Engine = ingest.NewEngine(a.Repo, a.Repo, a.Repo, a.Feed, a.Music, ingest.Config{MaxParentDepth: cfg.Sync.MaxParentDepth}, realClock, logger)
	a.Sync = channelsync.NewWorker(channels, a.Repo, a.Repo, a.Feed, a.Engine, channelsync.Config{
		PageSize:       cfg.Sync.PageSize,
		IncludeReplies: cfg.Sync.IncludeReplies,
		ReplyDepth:     cfg.Sync.ReplyDepth,
	}, realClock, logger)
	a.Reactions = reactions.NewWorker(a.Repo, a.Repo, a.Repo, a.Repo, a.Feed, reactions.Config{
		Window:    time.Duration(cfg.Reactions.WindowDays) * 24 * time.Hour,
		BatchSize: cfg.Reactions.BatchSize,
	}, realClock, logger)
	a.Backfill = backfill.NewService(a.Feed, a.Repo, a.Engine, backfill.Config{
		PageSize:  cfg.Backfill.PageSize,
		PageDelay: cfg.Backfill.PageDelay,
	}, realClock, logger)
	return a, nil
}

func (a *App) enrichmentQueue() (domain.EnrichmentQueue, error) {
	cfg := a.Config.Queues
	switch strings.ToLower(cfg.EnrichmentBackend) {
	case "", "postgres":
		return a.Repo, nil
	case "redis":
		if a.Redis == nil {
			return nil, fmt.Errorf("очередь redis требует REDIS_ADDR")
		}
		return queue.NewRedisEnrichmentQueue(a.Redis, cfg.Enrichment), nil
	case "rabbitmq":
		q, err := queue.NewRabbitEnrichmentQueue(cfg.RabbitURL, cfg.Enrichment, a.Repo)
		if err != nil {
			return nil, fmt.Errorf("очередь rabbitmq: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("неизвестный backend очереди: %s", cfg.EnrichmentBackend)
	}
}

// Close освобождает подключения.
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Log.Warn().Err(err).Msg("app: close failed")
		}
	}
	a.closers = nil
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("app: redis close failed")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
