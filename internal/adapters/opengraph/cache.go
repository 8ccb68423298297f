package opengraph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

// CachedFetcher кэширует успешные загрузки; ошибки не кэшируются.
type CachedFetcher struct {
	next  domain.OGFetcher
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedFetcher оборачивает next кэшем с TTL.
func NewCachedFetcher(next domain.OGFetcher, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{next: next, cache: cache, ttl: ttl, log: logger.With().Str("component", "opengraph_cache").Logger()}
}

var _ domain.OGFetcher = (*CachedFetcher)(nil)

func cacheKey(url string) string {
	return "og:" + url
}

// Fetch возвращает метаданные из кэша или загружает их.
func (c *CachedFetcher) Fetch(ctx context.Context, url string) (domain.OGMetadata, error) {
	if data, err := c.cache.Get(ctx, cacheKey(url)); err == nil && len(data) > 0 {
		var meta domain.OGMetadata
		if err := json.Unmarshal(data, &meta); err == nil {
			return meta, nil
		}
	}
	meta, err := c.next.Fetch(ctx, url)
	if err != nil {
		return domain.OGMetadata{}, err
	}
	data, err := json.Marshal(meta)
	if err == nil {
		if err := c.cache.Set(ctx, cacheKey(url), data, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("opengraph: cache write failed")
		}
	}
	return meta, nil
}
