package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
)

// DefaultMaxParentDepth предел рекурсивной загрузки родителей.
const DefaultMaxParentDepth = 10

// MusicPipeline часть музыкального конвейера, нужная движку.
type MusicPipeline interface {
	ProcessBatch(ctx context.Context, urls []string) []music.ProcessResult
	LinkTrackToCast(ctx context.Context, castHash, platform, platformID string, embedIndex int) error
}

// Config параметры движка.
type Config struct {
	MaxParentDepth int
}

// Engine сохраняет касты из ленты вместе с авторами, связями и треками.
type Engine struct {
	casts    domain.CastRepo
	users    domain.UserRepo
	edges    domain.EdgeRepo
	feed     domain.FeedClient
	music    MusicPipeline
	clock    clock.Clock
	maxDepth int
	log      zerolog.Logger
}

// NewEngine создаёт движок.
func NewEngine(casts domain.CastRepo, users domain.UserRepo, edges domain.EdgeRepo, feed domain.FeedClient, pipeline MusicPipeline, cfg Config, c clock.Clock, logger zerolog.Logger) *Engine {
	if cfg.MaxParentDepth <= 0 {
		cfg.MaxParentDepth = DefaultMaxParentDepth
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Engine{
		casts:    casts,
		users:    users,
		edges:    edges,
		feed:     feed,
		music:    pipeline,
		clock:    c,
		maxDepth: cfg.MaxParentDepth,
		log:      logger.With().Str("component", "ingest").Logger(),
	}
}

// Result итог сохранения одного каста.
type Result struct {
	Hash string
	// ParentResolved false для ответа, родителя которого не удалось получить; REPLIED не создаётся.
	ParentResolved bool
	Tracks         int
	// Errors некритичные ошибки: связи, профиль, эмбеды.
	Errors []error
}

// Partial сообщает, что каст сохранён, но часть шагов завершилась ошибкой.
func (r Result) Partial() bool {
	return len(r.Errors) > 0
}

// BatchResult итог пачки кастов.
type BatchResult struct {
	Ingested int
	Partial  int
	Results  []Result
	// Errors ошибки кастов, которые не удалось сохранить.
	Errors []error
}

// Run один проход ингеста с кэшем уже обработанных кастов.
type Run struct {
	engine *Engine
	source string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewRun начинает проход; source попадает в метрики (sync, backfill, replies, api).
func (e *Engine) NewRun(source string) *Run {
	if source == "" {
		source = "unknown"
	}
	return &Run{engine: e, source: source, seen: make(map[string]struct{})}
}

// Ingest сохраняет каст. Ошибка возвращается только если не удалось сохранить сам каст.
func (r *Run) Ingest(ctx context.Context, fc domain.FeedCast, channel string) (Result, error) {
	return r.ingest(ctx, fc, channel, 0)
}

// IngestBatch сохраняет касты по порядку; ошибка одного каста не влияет на остальные.
func (r *Run) IngestBatch(ctx context.Context, casts []domain.FeedCast, channel string) BatchResult {
	var out BatchResult
	for _, fc := range casts {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, err)
			break
		}
		res, err := r.Ingest(ctx, fc, channel)
		if err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		out.Ingested++
		if res.Partial() {
			out.Partial++
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// IngestReplies сохраняет вложенные ответы треда: родители раньше детей.
func (r *Run) IngestReplies(ctx context.Context, root domain.FeedCast, channel string) BatchResult {
	var out BatchResult
	var walk func(parent domain.FeedCast)
	walk = func(parent domain.FeedCast) {
		for _, reply := range parent.Replies {
			if ctx.Err() != nil {
				return
			}
			if reply.ParentHash == "" {
				reply.ParentHash = parent.Hash
			}
			res, err := r.Ingest(ctx, reply, channel)
			if err != nil {
				out.Errors = append(out.Errors, err)
				continue
			}
			out.Ingested++
			if res.Partial() {
				out.Partial++
			}
			out.Results = append(out.Results, res)
			walk(reply)
		}
	}
	walk(root)
	return out
}

func (r *Run) markSeen(hash string) {
	r.mu.Lock()
	r.seen[hash] = struct{}{}
	r.mu.Unlock()
}

func (r *Run) wasSeen(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[hash]
	return ok
}

func (r *Run) ingest(ctx context.Context, fc domain.FeedCast, channel string, depth int) (Result, error) {
	e := r.engine
	res := Result{Hash: fc.Hash}
	if strings.TrimSpace(fc.Hash) == "" {
		return res, fmt.Errorf("каст без хэша")
	}
	cast := toCast(fc, channel, e.clock.Now())

	if err := e.casts.UpsertCast(ctx, cast); err != nil {
		metrics.IngestErrors.WithLabelValues("cast").Inc()
		return res, fmt.Errorf("сохранение каста %s: %w", fc.Hash, err)
	}
	r.markSeen(cast.Hash)
	metrics.CastsIngested.WithLabelValues(metricChannel(cast.Channel), r.source).Inc()

	if cast.ParentHash != "" {
		resolved, err := r.ensureParent(ctx, cast.ParentHash, depth+1)
		if err != nil {
			res.Errors = append(res.Errors, err)
		}
		res.ParentResolved = resolved
	}

	if err := r.upsertAuthor(ctx, fc.Author); err != nil {
		metrics.IngestErrors.WithLabelValues("user").Inc()
		res.Errors = append(res.Errors, err)
	}

	created := cast.CreatedAt
	hasAuthor := fc.Author.FID > 0
	if hasAuthor {
		if err := r.createEdge(ctx, domain.InteractionEdge{UserFID: fc.Author.FID, CastHash: cast.Hash, Kind: domain.EdgeAuthored, CreatedAt: created}); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}
	if hasAuthor && cast.ParentHash != "" && res.ParentResolved {
		edge := domain.InteractionEdge{UserFID: fc.Author.FID, CastHash: cast.Hash, Kind: domain.EdgeReplied, ParentHash: cast.ParentHash, CreatedAt: created}
		if err := r.createEdge(ctx, edge); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}

	tracks, errs := r.processEmbeds(ctx, fc)
	res.Tracks = tracks
	res.Errors = append(res.Errors, errs...)
	return res, nil
}

// ensureParent гарантирует наличие родителя в хранилище до создания REPLIED.
func (r *Run) ensureParent(ctx context.Context, parentHash string, depth int) (bool, error) {
	e := r.engine
	if r.wasSeen(parentHash) {
		return true, nil
	}
	exists, err := e.casts.CastExists(ctx, parentHash)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("parent_lookup").Inc()
		return false, fmt.Errorf("проверка родителя %s: %w", parentHash, err)
	}
	if exists {
		r.markSeen(parentHash)
		return true, nil
	}
	if depth > e.maxDepth {
		e.log.Warn().Str("parent", parentHash).Int("depth", depth).Msg("ingest: parent depth limit reached, skipping reply edge")
		return false, nil
	}

	fetched, err := e.feed.GetBulkCasts(ctx, []string{parentHash})
	if err != nil {
		metrics.IngestErrors.WithLabelValues("parent_fetch").Inc()
		return false, fmt.Errorf("загрузка родителя %s: %w", parentHash, err)
	}
	var parent *domain.FeedCast
	for i := range fetched {
		if fetched[i].Hash == parentHash {
			parent = &fetched[i]
			break
		}
	}
	if parent == nil {
		e.log.Info().Str("parent", parentHash).Msg("ingest: parent not found upstream, skipping reply edge")
		return false, nil
	}
	if _, err := r.ingest(ctx, *parent, "", depth); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Run) upsertAuthor(ctx context.Context, author domain.Profile) error {
	e := r.engine
	if author.FID <= 0 {
		return fmt.Errorf("каст без автора")
	}
	if author.Username == "" {
		profile, err := e.feed.GetUserByFID(ctx, author.FID)
		if err != nil {
			e.log.Debug().Err(err).Int64("fid", author.FID).Msg("ingest: profile enrichment failed")
		} else {
			author = mergeProfile(author, profile)
		}
	}
	if err := e.users.UpsertUser(ctx, domain.User{
		FID:         author.FID,
		Username:    author.Username,
		DisplayName: author.DisplayName,
		PfpURL:      author.PfpURL,
		UpdatedAt:   e.clock.Now(),
	}); err != nil {
		return fmt.Errorf("сохранение автора %d: %w", author.FID, err)
	}
	return nil
}

func (r *Run) createEdge(ctx context.Context, edge domain.InteractionEdge) error {
	err := r.engine.edges.CreateEdge(ctx, edge)
	if err == nil || errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	metrics.IngestErrors.WithLabelValues("edge").Inc()
	r.engine.log.Warn().Err(err).Str("cast", edge.CastHash).Str("kind", string(edge.Kind)).Msg("ingest: edge insert failed")
	return fmt.Errorf("связь %s для %s: %w", edge.Kind, edge.CastHash, err)
}

func (r *Run) processEmbeds(ctx context.Context, fc domain.FeedCast) (int, []error) {
	e := r.engine
	hash := fc.Hash
	if len(fc.EmbedURLs) == 0 || e.music == nil {
		return 0, nil
	}
	var (
		linked int
		errs   []error
	)
	for i, res := range e.music.ProcessBatch(ctx, fc.EmbedURLs) {
		if res.Err != nil {
			if errors.Is(res.Err, domain.ErrNotMusicURL) {
				continue
			}
			metrics.IngestErrors.WithLabelValues("embed").Inc()
			e.log.Warn().Err(res.Err).Str("cast", hash).Str("url", res.URL).Msg("ingest: embed processing failed")
			errs = append(errs, res.Err)
			continue
		}
		if err := e.music.LinkTrackToCast(ctx, hash, res.Platform, res.PlatformID, fc.EmbedPosition(i)); err != nil {
			metrics.IngestErrors.WithLabelValues("embed_link").Inc()
			e.log.Warn().Err(err).Str("cast", hash).Str("url", res.URL).Msg("ingest: track link failed")
			errs = append(errs, err)
			continue
		}
		linked++
	}
	return linked, errs
}

// Publish публикует каст и сразу сохраняет его локально.
func (e *Engine) Publish(ctx context.Context, params domain.PublishCastParams) (domain.PublishedCast, Result, error) {
	published, err := e.feed.PublishCast(ctx, params)
	if err != nil {
		return domain.PublishedCast{}, Result{}, fmt.Errorf("публикация каста: %w", err)
	}
	fc, err := e.feed.GetCastWithReplies(ctx, published.Hash, 0)
	if err != nil {
		e.log.Warn().Err(err).Str("cast", published.Hash).Msg("ingest: published cast lookup failed, using request payload")
		fc = domain.FeedCast{
			Hash:       published.Hash,
			ParentHash: params.Parent,
			ChannelID:  params.ChannelID,
			Author:     published.Author,
			Text:       params.Text,
			Timestamp:  e.clock.Now(),
			EmbedURLs:  params.Embeds,
		}
	}
	res, err := e.NewRun("publish").Ingest(ctx, fc, params.ChannelID)
	return published, res, err
}

func toCast(fc domain.FeedCast, channel string, now time.Time) domain.Cast {
	if channel == "" {
		channel = fc.ChannelID
	}
	root := ""
	if fc.ThreadHash != "" && fc.ThreadHash != fc.Hash {
		root = fc.ThreadHash
	}
	created := fc.Timestamp.UTC()
	if fc.Timestamp.IsZero() {
		created = now
	}
	embeds := make([]string, 0, len(fc.EmbedURLs))
	embeds = append(embeds, fc.EmbedURLs...)
	return domain.Cast{
		Hash:           fc.Hash,
		Text:           fc.Text,
		AuthorFID:      fc.Author.FID,
		ParentHash:     fc.ParentHash,
		RootParentHash: root,
		Channel:        strings.ToLower(channel),
		CreatedAt:      created,
		Embeds:         embeds,
	}
}

func mergeProfile(base, fetched domain.Profile) domain.Profile {
	if base.Username == "" {
		base.Username = fetched.Username
	}
	if base.DisplayName == "" {
		base.DisplayName = fetched.DisplayName
	}
	if base.PfpURL == "" {
		base.PfpURL = fetched.PfpURL
	}
	return base
}

func metricChannel(channel string) string {
	if channel == "" {
		return "none"
	}
	return channel
}
