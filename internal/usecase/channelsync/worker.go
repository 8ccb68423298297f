package channelsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
)

// ErrSyncInProgress возвращается, если канал уже синхронизируется.
var ErrSyncInProgress = errors.New("синхронизация канала уже выполняется")

const (
	defaultPageSize        = 25
	defaultIntervalMinutes = 5
	defaultReplyDepth      = 2
)

// Config параметры воркера.
type Config struct {
	PageSize       int
	IncludeReplies bool
	ReplyDepth     int
}

// SyncOptions параметры одного запуска.
type SyncOptions struct {
	// Force пропускает проверку интервала.
	Force          bool
	Limit          int
	IncludeReplies bool
}

// SyncResult итог синхронизации канала.
type SyncResult struct {
	ChannelID string
	Skipped   bool
	Success   bool
	Processed int
	NewCount  int
	Errors    []string
}

// Worker периодически подтягивает свежие касты каналов.
type Worker struct {
	channels    []domain.ChannelConfig
	intervals   map[string]int
	checkpoints domain.SyncCheckpointRepo
	casts       domain.CastRepo
	feed        domain.FeedClient
	engine      *ingest.Engine
	clock       clock.Clock
	cfg         Config
	log         zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewWorker создаёт воркер синхронизации.
func NewWorker(channels []domain.ChannelConfig, checkpoints domain.SyncCheckpointRepo, casts domain.CastRepo, feed domain.FeedClient, engine *ingest.Engine, cfg Config, c clock.Clock, logger zerolog.Logger) *Worker {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ReplyDepth <= 0 {
		cfg.ReplyDepth = defaultReplyDepth
	}
	if c == nil {
		c = clock.Real{}
	}
	intervals := make(map[string]int, len(channels))
	for _, ch := range channels {
		intervals[ch.ID] = ch.IntervalMinutes
	}
	return &Worker{
		channels:    channels,
		intervals:   intervals,
		checkpoints: checkpoints,
		casts:       casts,
		feed:        feed,
		engine:      engine,
		clock:       c,
		cfg:         cfg,
		log:         logger.With().Str("component", "channelsync").Logger(),
		inFlight:    make(map[string]struct{}),
	}
}

// Tick проверяет все каналы параллельно. Занятые каналы пропускаются.
func (w *Worker) Tick(ctx context.Context) []SyncResult {
	start := time.Now()
	defer metrics.ObserveSync("channel_sync", start)

	results := make([]SyncResult, len(w.channels))
	var g errgroup.Group
	for i, ch := range w.channels {
		g.Go(func() error {
			res, err := w.SyncChannel(ctx, ch.ID, SyncOptions{IncludeReplies: w.cfg.IncludeReplies})
			if errors.Is(err, ErrSyncInProgress) {
				w.log.Debug().Str("channel", ch.ID).Msg("channelsync: previous run still in progress, skipping")
			} else if err != nil {
				w.log.Error().Err(err).Str("channel", ch.ID).Msg("channelsync: sync failed")
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *Worker) acquire(channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[channelID]; busy {
		return false
	}
	w.inFlight[channelID] = struct{}{}
	return true
}

func (w *Worker) release(channelID string) {
	w.mu.Lock()
	delete(w.inFlight, channelID)
	w.mu.Unlock()
}

func (w *Worker) interval(channelID string) time.Duration {
	minutes := w.intervals[channelID]
	if minutes <= 0 {
		minutes = defaultIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// SyncChannel синхронизирует один канал: одна страница ленты, только касты новее последнего сохранённого.
// Ошибка возвращается, если не удалось получить курсор или ленту.
func (w *Worker) SyncChannel(ctx context.Context, channelID string, opts SyncOptions) (SyncResult, error) {
	channelID = strings.ToLower(strings.TrimSpace(channelID))
	res := SyncResult{ChannelID: channelID}
	if channelID == "" {
		return res, fmt.Errorf("пустой идентификатор канала")
	}
	if !w.acquire(channelID) {
		res.Skipped = true
		return res, ErrSyncInProgress
	}
	defer w.release(channelID)

	now := w.clock.Now()
	if !opts.Force {
		cp, found, err := w.checkpoints.GetChannelSync(ctx, channelID)
		if err != nil {
			w.log.Warn().Err(err).Str("channel", channelID).Msg("channelsync: checkpoint read failed, syncing anyway")
		} else if found && now.Sub(cp.LastSyncAt) < w.interval(channelID) {
			res.Skipped = true
			res.Success = cp.Success
			metrics.ChannelSyncRuns.WithLabelValues(channelID, "skipped").Inc()
			return res, nil
		}
	}

	cursor, hasCursor, err := w.casts.LatestCastTimestamp(ctx, channelID)
	if err != nil {
		return w.fail(ctx, res, now, fmt.Errorf("курсор канала %s: %w", channelID, err))
	}

	limit := opts.Limit
	if limit <= 0 || limit > w.cfg.PageSize {
		limit = w.cfg.PageSize
	}
	page, err := w.feed.ListChannelFeed(ctx, channelID, "", limit)
	if err != nil {
		return w.fail(ctx, res, now, fmt.Errorf("лента канала %s: %w", channelID, err))
	}

	fresh := page.Casts
	if hasCursor {
		fresh = make([]domain.FeedCast, 0, len(page.Casts))
		for _, fc := range page.Casts {
			if fc.Timestamp.After(cursor) {
				fresh = append(fresh, fc)
			}
		}
	}
	res.NewCount = len(fresh)

	run := w.engine.NewRun("sync")
	batch := run.IngestBatch(ctx, fresh, channelID)
	res.Processed = batch.Ingested
	for _, e := range batch.Errors {
		res.Errors = append(res.Errors, e.Error())
	}

	if opts.IncludeReplies {
		ingested := make(map[string]struct{}, len(batch.Results))
		for _, r := range batch.Results {
			ingested[r.Hash] = struct{}{}
		}
		for _, fc := range fresh {
			if _, ok := ingested[fc.Hash]; !ok || fc.RepliesCount == 0 {
				continue
			}
			thread, err := w.feed.GetCastWithReplies(ctx, fc.Hash, w.cfg.ReplyDepth)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("ответы %s: %v", fc.Hash, err))
				continue
			}
			replies := run.IngestReplies(ctx, thread, channelID)
			res.Processed += replies.Ingested
			for _, e := range replies.Errors {
				res.Errors = append(res.Errors, e.Error())
			}
		}
	}

	res.Success = len(res.Errors) == 0
	w.saveCheckpoint(ctx, domain.ChannelSyncCheckpoint{
		ChannelID:     channelID,
		LastSyncAt:    now,
		LastCastCount: res.Processed,
		Success:       res.Success,
		LastError:     firstError(res.Errors),
	})
	status := "success"
	if !res.Success {
		status = "partial"
	}
	metrics.ChannelSyncRuns.WithLabelValues(channelID, status).Inc()
	w.log.Info().Str("channel", channelID).Int("new", res.NewCount).Int("processed", res.Processed).Int("errors", len(res.Errors)).Msg("channelsync: channel synced")
	return res, nil
}

func (w *Worker) fail(ctx context.Context, res SyncResult, now time.Time, err error) (SyncResult, error) {
	res.Success = false
	res.Errors = append(res.Errors, err.Error())
	w.saveCheckpoint(ctx, domain.ChannelSyncCheckpoint{
		ChannelID:  res.ChannelID,
		LastSyncAt: now,
		Success:    false,
		LastError:  err.Error(),
	})
	metrics.ChannelSyncRuns.WithLabelValues(res.ChannelID, "error").Inc()
	return res, err
}

// saveCheckpoint только предупреждает об ошибке: следующий тик повторит работу.
func (w *Worker) saveCheckpoint(ctx context.Context, cp domain.ChannelSyncCheckpoint) {
	if err := w.checkpoints.SaveChannelSync(ctx, cp); err != nil {
		w.log.Warn().Err(err).Str("channel", cp.ChannelID).Msg("channelsync: checkpoint write failed")
	}
}

// Status возвращает состояние последней синхронизации канала.
func (w *Worker) Status(ctx context.Context, channelID string) (domain.ChannelSyncCheckpoint, error) {
	channelID = strings.ToLower(strings.TrimSpace(channelID))
	cp, found, err := w.checkpoints.GetChannelSync(ctx, channelID)
	if err != nil {
		return domain.ChannelSyncCheckpoint{}, err
	}
	if !found {
		return domain.ChannelSyncCheckpoint{}, fmt.Errorf("канал %s: %w", channelID, domain.ErrNotFound)
	}
	return cp, nil
}

func firstError(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}
