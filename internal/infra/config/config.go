package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Feed struct {
		APIKey         string        `envconfig:"FEED_API_KEY"`
		BaseURL        string        `envconfig:"FEED_BASE_URL" default:"https://api.neynar.com"`
		SignerUUID     string        `envconfig:"FEED_SIGNER_UUID"`
		MinInterval    time.Duration `envconfig:"FEED_MIN_INTERVAL" default:"250ms"`
		Timeout        time.Duration `envconfig:"FEED_TIMEOUT" default:"15s"`
		MaxAttempts    int           `envconfig:"FEED_MAX_ATTEMPTS" default:"3"`
		RetryBaseDelay time.Duration `envconfig:"FEED_RETRY_BASE_DELAY" default:"1s"`
	} `envconfig:""`

	OpenGraph struct {
		Timeout   time.Duration `envconfig:"OG_TIMEOUT" default:"8s"`
		Retries   int           `envconfig:"OG_RETRIES" default:"2"`
		UserAgent string        `envconfig:"OG_USER_AGENT" default:"vibe-playlist-bot/1.0"`
		CacheTTL  time.Duration `envconfig:"OG_CACHE_TTL" default:"24h"`
	} `envconfig:""`

	Sync struct {
		Channels       []string `envconfig:"SYNC_CHANNELS" default:"music:5"`
		Schedule       string   `envconfig:"SYNC_SCHEDULE" default:"@every 1m"`
		PageSize       int      `envconfig:"SYNC_PAGE_SIZE" default:"25"`
		IncludeReplies bool     `envconfig:"SYNC_INCLUDE_REPLIES" default:"true"`
		ReplyDepth     int      `envconfig:"SYNC_REPLY_DEPTH" default:"2"`
		MaxParentDepth int      `envconfig:"SYNC_MAX_PARENT_DEPTH" default:"10"`
	} `envconfig:""`

	Reactions struct {
		Schedule   string `envconfig:"REACTIONS_SCHEDULE" default:"@every 15m"`
		WindowDays int    `envconfig:"REACTIONS_WINDOW_DAYS" default:"7"`
		BatchSize  int    `envconfig:"REACTIONS_BATCH_SIZE" default:"100"`
	} `envconfig:""`

	Backfill struct {
		PageSize  int           `envconfig:"BACKFILL_PAGE_SIZE" default:"100"`
		PageDelay time.Duration `envconfig:"BACKFILL_PAGE_DELAY" default:"1s"`
	} `envconfig:""`

	Queues struct {
		EnrichmentBackend string `envconfig:"ENRICHMENT_QUEUE_BACKEND" default:"postgres"`
		Enrichment        string `envconfig:"ENRICHMENT_QUEUE_KEY" default:"music_enrichment"`
		RabbitURL         string `envconfig:"RABBITMQ_URL"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// ChannelConfigs возвращает разобранный список каналов синхронизации.
func (c AppConfig) ChannelConfigs() ([]domain.ChannelConfig, error) {
	return ParseChannels(c.Sync.Channels)
}

const defaultIntervalMinutes = 5

// ParseChannels разбирает записи вида "channel:minutes". Интервал по умолчанию 5 минут,
// повторяющиеся каналы игнорируются с сохранением порядка.
func ParseChannels(entries []string) ([]domain.ChannelConfig, error) {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.ChannelConfig, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		id, intervalRaw, hasInterval := strings.Cut(entry, ":")
		id = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(id, "/")))
		if id == "" {
			return nil, fmt.Errorf("пустой идентификатор канала в %q", raw)
		}
		interval := defaultIntervalMinutes
		if hasInterval {
			n, err := strconv.Atoi(strings.TrimSpace(intervalRaw))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("некорректный интервал в %q", raw)
			}
			interval = n
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, domain.ChannelConfig{ID: id, IntervalMinutes: interval})
	}
	return out, nil
}
