package reactions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

const (
	defaultWindow    = 7 * 24 * time.Hour
	defaultBatchSize = 100
	maxPageSize      = 100
)

// Config параметры сверки.
type Config struct {
	Window    time.Duration
	BatchSize int
}

// Stats итог прохода сверки.
type Stats struct {
	Checked int
	Changed int
	Added   int
	Failed  int
	Batches int
}

// Options параметры сверки одного каста.
type Options struct {
	Types []domain.ReactionType
	// Limit максимум реакций каждого типа; 0 означает все.
	Limit int
}

// Worker сверяет лайки и рекасты недавних кастов с внешним API.
type Worker struct {
	casts    domain.CastRepo
	users    domain.UserRepo
	edges    domain.EdgeRepo
	tracking domain.ReactionTrackingRepo
	feed     domain.FeedClient
	clock    clock.Clock
	cfg      Config
	log      zerolog.Logger
}

// NewWorker создаёт воркер сверки реакций.
func NewWorker(casts domain.CastRepo, users domain.UserRepo, edges domain.EdgeRepo, tracking domain.ReactionTrackingRepo, feed domain.FeedClient, cfg Config, c clock.Clock, logger zerolog.Logger) *Worker {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > defaultBatchSize {
		cfg.BatchSize = defaultBatchSize
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Worker{
		casts:    casts,
		users:    users,
		edges:    edges,
		tracking: tracking,
		feed:     feed,
		clock:    c,
		cfg:      cfg,
		log:      logger.With().Str("component", "reactions").Logger(),
	}
}

// RunOnce проверяет касты за окно: один bulk-запрос на пачку, полные списки реакций
// только для кастов, у которых счётчик вырос.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer metrics.ObserveSync("reactions", start)

	var stats Stats
	since := w.clock.Now().Add(-w.cfg.Window)
	hashes, err := w.casts.ListCastHashesSince(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("список кастов за окно: %w", err)
	}
	for offset := 0; offset < len(hashes); offset += w.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := offset + w.cfg.BatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		stats.Batches++
		if err := w.reconcileBatch(ctx, hashes[offset:end], &stats); err != nil {
			stats.Failed++
			w.log.Error().Err(err).Int("batch", stats.Batches).Msg("reactions: batch failed")
		}
	}
	w.log.Info().Int("checked", stats.Checked).Int("changed", stats.Changed).Int("added", stats.Added).Int("failed", stats.Failed).Msg("reactions: reconciliation finished")
	return stats, nil
}

func (w *Worker) reconcileBatch(ctx context.Context, batch []string, stats *Stats) error {
	live, err := w.feed.GetBulkCasts(ctx, batch)
	if err != nil {
		return fmt.Errorf("счётчики реакций: %w", err)
	}
	liveByHash := make(map[string]domain.FeedCast, len(live))
	for _, fc := range live {
		liveByHash[fc.Hash] = fc
	}
	baseline, err := w.tracking.GetReactionTracking(ctx, batch)
	if err != nil {
		return fmt.Errorf("базовые счётчики: %w", err)
	}

	now := w.clock.Now()
	rows := make([]domain.ReactionTracking, 0, len(batch))
	for _, hash := range batch {
		stats.Checked++
		base := baseline[hash]
		row := domain.ReactionTracking{CastHash: hash, LikesCount: base.LikesCount, RecastsCount: base.RecastsCount, LastCheckedAt: now}

		fc, ok := liveByHash[hash]
		var changed []domain.ReactionType
		if ok && fc.LikesCount > base.LikesCount {
			changed = append(changed, domain.ReactionLike)
		}
		if ok && fc.RecastsCount > base.RecastsCount {
			changed = append(changed, domain.ReactionRecast)
		}
		if len(changed) > 0 {
			stats.Changed++
			metrics.ReactionCastsChanged.Inc()
			for _, t := range changed {
				want := fc.LikesCount
				if t == domain.ReactionRecast {
					want = fc.RecastsCount
				}
				added, failed := w.syncKind(ctx, hash, t, want, 0)
				stats.Added += added
				stats.Failed += failed
			}
			counted, err := w.countFromStore(ctx, hash)
			if err != nil {
				w.log.Warn().Err(err).Str("cast", hash).Msg("reactions: recount failed, keeping previous baseline")
			} else {
				row.LikesCount = counted.LikesCount
				row.RecastsCount = counted.RecastsCount
			}
		}
		rows = append(rows, row)
	}

	if err := w.tracking.SaveReactionTracking(ctx, rows); err != nil {
		w.log.Warn().Err(err).Int("casts", len(rows)).Msg("reactions: tracking write failed")
	}
	return nil
}

// syncKind выгружает реакции одного типа постранично, пока не наберётся want или не кончатся страницы.
func (w *Worker) syncKind(ctx context.Context, hash string, kind domain.ReactionType, want int, viewerFID int64) (added, failed int) {
	fetched := 0
	cursor := ""
	for fetched < want {
		limit := want - fetched
		if limit > maxPageSize {
			limit = maxPageSize
		}
		page, err := w.feed.GetCastReactions(ctx, hash, domain.ReactionQuery{
			Types:     []domain.ReactionType{kind},
			Limit:     limit,
			Cursor:    cursor,
			ViewerFID: viewerFID,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("cast", hash).Str("type", string(kind)).Msg("reactions: page fetch failed")
			failed++
			return added, failed
		}
		items := page.Likes
		if kind == domain.ReactionRecast {
			items = page.Recasts
		}
		if len(items) == 0 {
			break
		}
		for _, r := range items {
			fetched++
			ok, err := w.storeReaction(ctx, hash, kind, r)
			switch {
			case err != nil:
				failed++
				w.log.Warn().Err(err).Str("cast", hash).Int64("fid", r.User.FID).Msg("reactions: edge insert failed")
			case ok:
				added++
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if added > 0 {
		metrics.ReactionsReconciled.WithLabelValues(string(kind.EdgeKind())).Add(float64(added))
	}
	return added, failed
}

// storeReaction сохраняет профиль и ребро; false без ошибки означает, что ребро уже было.
func (w *Worker) storeReaction(ctx context.Context, hash string, kind domain.ReactionType, r domain.Reaction) (bool, error) {
	if r.User.FID <= 0 {
		return false, fmt.Errorf("реакция без пользователя")
	}
	if err := w.users.UpsertUser(ctx, domain.User{
		FID:         r.User.FID,
		Username:    r.User.Username,
		DisplayName: r.User.DisplayName,
		PfpURL:      r.User.PfpURL,
		UpdatedAt:   w.clock.Now(),
	}); err != nil {
		w.log.Debug().Err(err).Int64("fid", r.User.FID).Msg("reactions: reactor upsert failed")
	}
	created := r.Timestamp
	if created.IsZero() {
		created = w.clock.Now()
	}
	err := w.edges.CreateEdge(ctx, domain.InteractionEdge{UserFID: r.User.FID, CastHash: hash, Kind: kind.EdgeKind(), CreatedAt: created})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) countFromStore(ctx context.Context, hash string) (domain.ReactionTracking, error) {
	likes, err := w.edges.CountEdges(ctx, hash, domain.EdgeLiked)
	if err != nil {
		return domain.ReactionTracking{}, err
	}
	recasts, err := w.edges.CountEdges(ctx, hash, domain.EdgeRecasted)
	if err != nil {
		return domain.ReactionTracking{}, err
	}
	return domain.ReactionTracking{CastHash: hash, LikesCount: likes, RecastsCount: recasts}, nil
}

// SyncCastReactions сверяет реакции одного каста и возвращает число новых рёбер.
func (w *Worker) SyncCastReactions(ctx context.Context, hash string, viewerFID int64, opts Options) (int, error) {
	if hash == "" {
		return 0, fmt.Errorf("пустой хэш каста")
	}
	exists, err := w.casts.CastExists(ctx, hash)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("каст %s: %w", hash, domain.ErrNotFound)
	}
	types := opts.Types
	if len(types) == 0 {
		types = []domain.ReactionType{domain.ReactionLike, domain.ReactionRecast}
	}
	want := opts.Limit
	if want <= 0 {
		want = math.MaxInt
	}

	total := 0
	for _, t := range types {
		added, _ := w.syncKind(ctx, hash, t, want, viewerFID)
		total += added
	}

	counted, err := w.countFromStore(ctx, hash)
	if err != nil {
		return total, err
	}
	counted.LastCheckedAt = w.clock.Now()
	if err := w.tracking.SaveReactionTracking(ctx, []domain.ReactionTracking{counted}); err != nil {
		w.log.Warn().Err(err).Str("cast", hash).Msg("reactions: tracking write failed")
	}
	return total, nil
}
