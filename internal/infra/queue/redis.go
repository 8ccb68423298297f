package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

// RedisEnrichmentQueue реализует очередь обогащения на базе Redis lists.
// Множество <key>:seen хранит уже поставленные треки.
type RedisEnrichmentQueue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

var _ domain.EnrichmentQueue = (*RedisEnrichmentQueue)(nil)

// NewRedisEnrichmentQueue создаёт очередь по указанному ключу.
func NewRedisEnrichmentQueue(client *redis.Client, key string) *RedisEnrichmentQueue {
	return &RedisEnrichmentQueue{client: client, key: key, now: func() time.Time { return time.Now().UTC() }}
}

func (q *RedisEnrichmentQueue) seenKey() string {
	return q.key + ":seen"
}

// EnqueueIfAbsent публикует задачу, если трек ещё не ставился в очередь.
func (q *RedisEnrichmentQueue) EnqueueIfAbsent(ctx context.Context, platform, platformID string) (bool, error) {
	job := domain.EnrichmentJob{
		ID:         uuid.NewString(),
		Platform:   platform,
		PlatformID: platformID,
		EnqueuedAt: q.now(),
	}
	start := time.Now()
	added, err := q.client.SAdd(ctx, q.seenKey(), job.EnrichmentKey()).Result()
	metrics.ObserveNetworkRequest("redis", "enrichment_dedup", q.key, start, err)
	if err != nil {
		return false, fmt.Errorf("dedup job: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	start = time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "enrichment_push", q.key, start, err)
	if err != nil {
		// снимаем ключ, иначе трек больше не попадёт в очередь
		_ = q.client.SRem(ctx, q.seenKey(), job.EnrichmentKey()).Err()
		return false, fmt.Errorf("push job: %w", err)
	}
	return true, nil
}
