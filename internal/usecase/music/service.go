package music

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

// DefaultBatchConcurrency число одновременных загрузок в ProcessBatch.
const DefaultBatchConcurrency = 3

// ProcessResult итог обработки одной ссылки.
type ProcessResult struct {
	URL        string
	Platform   string
	PlatformID string
	Success    bool
	// MetadataFetched false, если OpenGraph загрузить не удалось.
	MetadataFetched bool
	Enqueued        bool
	Track           domain.MusicTrack
	Err             error
}

// Service конвейер музыкальных метаданных.
type Service struct {
	tracks      domain.TrackRepo
	queue       domain.EnrichmentQueue
	og          domain.OGFetcher
	clock       clock.Clock
	concurrency int
	log         zerolog.Logger
}

// NewService создаёт конвейер.
func NewService(tracks domain.TrackRepo, queue domain.EnrichmentQueue, og domain.OGFetcher, c clock.Clock, logger zerolog.Logger) *Service {
	if c == nil {
		c = clock.Real{}
	}
	return &Service{
		tracks:      tracks,
		queue:       queue,
		og:          og,
		clock:       c,
		concurrency: DefaultBatchConcurrency,
		log:         logger.With().Str("component", "music").Logger(),
	}
}

// Process классифицирует ссылку, загружает OpenGraph и сохраняет трек.
// Для ссылок не на музыку возвращает domain.ErrNotMusicURL.
// Ошибка загрузки OpenGraph не прерывает обработку: трек сохраняется без метаданных.
func (s *Service) Process(ctx context.Context, rawURL string) (ProcessResult, error) {
	result := ProcessResult{URL: rawURL}
	match, ok := Classify(rawURL)
	if !ok {
		result.Err = domain.ErrNotMusicURL
		return result, domain.ErrNotMusicURL
	}
	result.Platform = match.Platform
	result.PlatformID = match.PlatformID

	track := domain.MusicTrack{
		Platform:   match.Platform,
		PlatformID: match.PlatformID,
		SourceURL:  rawURL,
		Status:     domain.TrackOGFetched,
		FetchedAt:  s.clock.Now(),
	}
	meta, err := s.og.Fetch(ctx, rawURL)
	if err != nil {
		s.log.Warn().Err(err).Str("url", rawURL).Str("platform", match.Platform).Msg("music: opengraph fetch failed, storing track without metadata")
	} else {
		result.MetadataFetched = true
		track.Title = optional(meta.Title)
		track.Artist = optional(meta.Artist)
		track.ImageURL = optional(meta.Image)
		if len(meta.Raw) > 0 {
			track.RawMetadata = meta.Raw
		}
	}

	saved, err := s.tracks.UpsertTrack(ctx, track)
	if err != nil {
		metrics.MusicTracksProcessed.WithLabelValues(match.Platform, "error").Inc()
		result.Err = fmt.Errorf("сохранение трека %s/%s: %w", match.Platform, match.PlatformID, err)
		return result, result.Err
	}
	result.Track = saved
	result.Success = true

	enqueued, err := s.queue.EnqueueIfAbsent(ctx, match.Platform, match.PlatformID)
	if err != nil {
		s.log.Warn().Err(err).Str("platform", match.Platform).Str("platform_id", match.PlatformID).Msg("music: enrichment enqueue failed")
	}
	result.Enqueued = enqueued

	status := "ok"
	if !result.MetadataFetched {
		status = "no_metadata"
	}
	metrics.MusicTracksProcessed.WithLabelValues(match.Platform, status).Inc()
	return result, nil
}

// ProcessBatch обрабатывает ссылки с ограниченным параллелизмом. Порядок результатов
// совпадает с порядком входа; ошибки одной ссылки не влияют на остальные.
func (s *Service) ProcessBatch(ctx context.Context, urls []string) []ProcessResult {
	results := make([]ProcessResult, len(urls))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			res, err := s.Process(ctx, u)
			if err != nil {
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// LinkTrackToCast связывает каст с треком. Повторный вызов ничего не меняет.
func (s *Service) LinkTrackToCast(ctx context.Context, castHash, platform, platformID string, embedIndex int) error {
	if castHash == "" || platform == "" || platformID == "" {
		return fmt.Errorf("пустой идентификатор связи каста с треком")
	}
	return s.tracks.LinkTrackToCast(ctx, domain.CastTrack{
		CastHash:   castHash,
		Platform:   platform,
		PlatformID: platformID,
		EmbedIndex: embedIndex,
	})
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// SetConcurrency меняет ширину окна ProcessBatch.
func (s *Service) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}
