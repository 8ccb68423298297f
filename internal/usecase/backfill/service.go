package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
)

const defaultPageSize = 100

// Config параметры выгрузки.
type Config struct {
	PageSize  int
	PageDelay time.Duration
}

// Request описывает одну выгрузку канала. Нулевые From/To не ограничивают диапазон.
type Request struct {
	Channel string
	From    time.Time
	To      time.Time
	// Reset начинает выгрузку заново, игнорируя сохранённую точку.
	Reset bool
}

// Result итог выгрузки.
type Result struct {
	Channel   string
	Pages     int
	Processed int
	// Total накопленное число кастов с учётом прошлых запусков.
	Total     int
	Errors    int
	Resumed   bool
	Completed bool
	Cursor    string
}

// Service выполняет возобновляемую историческую выгрузку канала.
type Service struct {
	feed        domain.FeedClient
	checkpoints domain.BackfillCheckpointRepo
	engine      *ingest.Engine
	clock       clock.Clock
	cfg         Config
	log         zerolog.Logger
}

// NewService создаёт сервис выгрузки.
func NewService(feed domain.FeedClient, checkpoints domain.BackfillCheckpointRepo, engine *ingest.Engine, cfg Config, c clock.Clock, logger zerolog.Logger) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Service{
		feed:        feed,
		checkpoints: checkpoints,
		engine:      engine,
		clock:       c,
		cfg:         cfg,
		log:         logger.With().Str("component", "backfill").Logger(),
	}
}

// Run идёт по ленте от новых к старым страницами, внутри страницы обрабатывает касты от старых к новым
// и сохраняет точку после каждой страницы. При ошибке ленты прогресс до предыдущей страницы сохранён.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	res := Result{Channel: channel}
	if channel == "" {
		return res, fmt.Errorf("пустой идентификатор канала")
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return res, fmt.Errorf("некорректный диапазон: %s позже %s", req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}

	cp, err := s.start(ctx, channel, req.Reset)
	if err != nil {
		return res, err
	}
	res.Resumed = cp.Cursor != ""
	res.Total = cp.Processed
	if cp.Completed {
		res.Completed = true
		s.log.Info().Str("channel", channel).Int("total", cp.Processed).Msg("backfill: already completed, pass reset to start over")
		return res, nil
	}

	run := s.engine.NewRun("backfill")
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := s.feed.ListChannelFeed(ctx, channel, cp.Cursor, s.cfg.PageSize)
		if err != nil {
			return res, fmt.Errorf("страница ленты %s: %w", channel, err)
		}
		if len(page.Casts) == 0 {
			cp.Completed = true
			if err := s.save(ctx, &cp); err != nil {
				return res, err
			}
			break
		}

		res.Pages++
		metrics.BackfillPages.WithLabelValues(channel).Inc()

		oldest := page.Casts[0].Timestamp
		for _, fc := range page.Casts {
			if fc.Timestamp.Before(oldest) {
				oldest = fc.Timestamp
			}
		}
		batch := run.IngestBatch(ctx, oldestFirst(inRange(page.Casts, req.From, req.To)), channel)
		res.Processed += batch.Ingested
		res.Errors += len(batch.Errors)
		if err := ctx.Err(); err != nil {
			// страница обработана не полностью: точка остаётся на предыдущей
			return res, err
		}

		cp.Cursor = page.NextCursor
		cp.LastSeenAt = oldest
		cp.Processed += batch.Ingested
		cp.Completed = page.NextCursor == "" || (!req.From.IsZero() && !oldest.After(req.From))
		if err := s.save(ctx, &cp); err != nil {
			return res, err
		}
		res.Total = cp.Processed
		res.Cursor = cp.Cursor

		s.log.Debug().Str("channel", channel).Int("page", res.Pages).Int("ingested", batch.Ingested).Time("oldest", oldest).Msg("backfill: page done")
		if cp.Completed {
			break
		}
		if s.cfg.PageDelay > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.PageDelay); err != nil {
				return res, err
			}
		}
	}

	res.Completed = cp.Completed
	s.log.Info().Str("channel", channel).Int("pages", res.Pages).Int("processed", res.Processed).Int("total", res.Total).Int("errors", res.Errors).Msg("backfill: finished")
	return res, nil
}

func (s *Service) start(ctx context.Context, channel string, reset bool) (domain.BackfillCheckpoint, error) {
	now := s.clock.Now()
	if reset {
		if err := s.checkpoints.DeleteBackfill(ctx, channel); err != nil {
			return domain.BackfillCheckpoint{}, fmt.Errorf("сброс точки %s: %w", channel, err)
		}
		return domain.BackfillCheckpoint{ChannelID: channel, StartedAt: now}, nil
	}
	cp, found, err := s.checkpoints.LoadBackfill(ctx, channel)
	if err != nil {
		return domain.BackfillCheckpoint{}, fmt.Errorf("точка выгрузки %s: %w", channel, err)
	}
	if !found {
		return domain.BackfillCheckpoint{ChannelID: channel, StartedAt: now}, nil
	}
	s.log.Info().Str("channel", channel).Str("cursor", cp.Cursor).Int("processed", cp.Processed).Msg("backfill: resuming from checkpoint")
	return cp, nil
}

func (s *Service) save(ctx context.Context, cp *domain.BackfillCheckpoint) error {
	cp.UpdatedAt = s.clock.Now()
	if err := s.checkpoints.SaveBackfill(ctx, *cp); err != nil {
		return fmt.Errorf("сохранение точки %s: %w", cp.ChannelID, err)
	}
	return nil
}

// Status возвращает сохранённую точку выгрузки.
func (s *Service) Status(ctx context.Context, channel string) (domain.BackfillCheckpoint, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	cp, found, err := s.checkpoints.LoadBackfill(ctx, channel)
	if err != nil {
		return domain.BackfillCheckpoint{}, err
	}
	if !found {
		return domain.BackfillCheckpoint{}, fmt.Errorf("выгрузка %s: %w", channel, domain.ErrNotFound)
	}
	return cp, nil
}

func inRange(casts []domain.FeedCast, from, to time.Time) []domain.FeedCast {
	out := make([]domain.FeedCast, 0, len(casts))
	for _, fc := range casts {
		if !from.IsZero() && fc.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && fc.Timestamp.After(to) {
			continue
		}
		out = append(out, fc)
	}
	return out
}

func oldestFirst(casts []domain.FeedCast) []domain.FeedCast {
	for i, j := 0, len(casts)-1; i < j; i, j = i+1, j-1 {
		casts[i], casts[j] = casts[j], casts[i]
	}
	return casts
}
