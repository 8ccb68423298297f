package opengraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/retry"
)

const maxBodySize = 2 << 20

// Fetcher загружает страницу и извлекает OpenGraph-теги.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	policy     retry.Policy
	log        zerolog.Logger
}

// Config параметры загрузки.
type Config struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	// RetryDelay базовая задержка между попытками.
	RetryDelay time.Duration
}

// NewFetcher создаёт загрузчик. client может быть nil.
func NewFetcher(client *http.Client, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{}
	}
	httpClient := *client
	httpClient.Timeout = cfg.Timeout
	return &Fetcher{
		httpClient: &httpClient,
		userAgent:  cfg.UserAgent,
		policy:     retry.Policy{MaxAttempts: cfg.Retries + 1, BaseDelay: cfg.RetryDelay, MaxDelay: 5 * time.Second},
		log:        logger.With().Str("component", "opengraph").Logger(),
	}
}

var _ domain.OGFetcher = (*Fetcher)(nil)

// Fetch загружает метаданные. Таймауты и 5xx повторяются, остальные ответы 4xx нет.
func (f *Fetcher) Fetch(ctx context.Context, url string) (domain.OGMetadata, error) {
	var meta domain.OGMetadata
	err := retry.Do(ctx, f.policy, func(attempt int) error {
		start := time.Now()
		result, err := f.fetchOnce(ctx, url)
		metrics.ObserveNetworkRequest("opengraph", "fetch", hostOf(url), start, err)
		if err != nil {
			return err
		}
		meta = result
		return nil
	}, func(err error, wait time.Duration) {
		f.log.Debug().Err(err).Str("url", url).Dur("wait", wait).Msg("opengraph: retrying fetch")
	})
	if err != nil {
		return domain.OGMetadata{}, fmt.Errorf("opengraph fetch %s: %w", url, err)
	}
	return meta, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (domain.OGMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.OGMetadata{}, retry.Permanent(err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OGMetadata{}, retry.Permanent(err)
		}
		return domain.OGMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		statusErr := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.OGMetadata{}, statusErr
		}
		return domain.OGMetadata{}, retry.Permanent(statusErr)
	}
	meta, err := Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.OGMetadata{}, retry.Permanent(err)
	}
	return meta, nil
}

// Parse извлекает OpenGraph и связанные теги из HTML.
func Parse(r io.Reader) (domain.OGMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return domain.OGMetadata{}, fmt.Errorf("parse html: %w", err)
	}
	raw := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !isTrackedTag(key) {
			return
		}
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		if _, exists := raw[key]; !exists {
			raw[key] = content
		}
	})

	meta := domain.OGMetadata{
		Title:       first(raw, "og:title", "twitter:title"),
		Description: first(raw, "og:description", "twitter:description", "description"),
		Image:       first(raw, "og:image", "og:image:url", "twitter:image"),
		SiteName:    first(raw, "og:site_name"),
		Artist:      first(raw, "music:musician_description", "twitter:audio:artist_name", "og:audio:artist", "music:creator"),
		Raw:         raw,
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if meta.Artist == "" {
		meta.Artist = artistFromDescription(meta.Description)
	}
	return meta, nil
}

func isTrackedTag(key string) bool {
	return strings.HasPrefix(key, "og:") ||
		strings.HasPrefix(key, "music:") ||
		strings.HasPrefix(key, "twitter:") ||
		key == "description"
}

func first(raw map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := raw[k]; v != "" {
			return v
		}
	}
	return ""
}

// artistFromDescription разбирает описания вида "Artist · Song · 2021".
func artistFromDescription(description string) string {
	parts := strings.Split(description, " · ")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}

func hostOf(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
