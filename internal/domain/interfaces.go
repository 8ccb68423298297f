package domain

import (
	"context"
	"time"
)

// FeedClient обращается к внешнему API социального графа.
type FeedClient interface {
	ListChannelFeed(ctx context.Context, channelID, cursor string, limit int) (FeedPage, error)
	GetCastWithReplies(ctx context.Context, hash string, replyDepth int) (FeedCast, error)
	GetBulkCasts(ctx context.Context, hashes []string) ([]FeedCast, error)
	GetUserByFID(ctx context.Context, fid int64) (Profile, error)
	GetCastReactions(ctx context.Context, hash string, query ReactionQuery) (ReactionPage, error)
	PublishCast(ctx context.Context, params PublishCastParams) (PublishedCast, error)
}

// OGMetadata метаданные страницы OpenGraph.
type OGMetadata struct {
	Title       string
	Description string
	Image       string
	SiteName    string
	Artist      string
	Raw         map[string]string
}

// OGFetcher загружает метаданные OpenGraph страницы.
type OGFetcher interface {
	Fetch(ctx context.Context, url string) (OGMetadata, error)
}

// CastRepo хранит касты.
type CastRepo interface {
	UpsertCast(ctx context.Context, cast Cast) error
	CastExists(ctx context.Context, hash string) (bool, error)
	LatestCastTimestamp(ctx context.Context, channelID string) (time.Time, bool, error)
	ListCastHashesSince(ctx context.Context, since time.Time) ([]string, error)
}

// UserRepo хранит профили пользователей.
type UserRepo interface {
	UpsertUser(ctx context.Context, user User) error
}

// EdgeRepo хранит связи пользователей с кастами.
type EdgeRepo interface {
	// CreateEdge возвращает ErrAlreadyExists, если такая связь уже есть.
	CreateEdge(ctx context.Context, edge InteractionEdge) error
	CountEdges(ctx context.Context, castHash string, kind EdgeKind) (int, error)
}

// TrackRepo хранит музыкальный каталог.
type TrackRepo interface {
	UpsertTrack(ctx context.Context, track MusicTrack) (MusicTrack, error)
	LinkTrackToCast(ctx context.Context, link CastTrack) error
}

// EnrichmentQueue очередь треков на дальнейшее обогащение.
type EnrichmentQueue interface {
	// EnqueueIfAbsent возвращает true, если трек был поставлен в очередь впервые.
	EnqueueIfAbsent(ctx context.Context, platform, platformID string) (bool, error)
}

// SyncCheckpointRepo хранит состояние синхронизации каналов.
type SyncCheckpointRepo interface {
	GetChannelSync(ctx context.Context, channelID string) (ChannelSyncCheckpoint, bool, error)
	SaveChannelSync(ctx context.Context, checkpoint ChannelSyncCheckpoint) error
}

// BackfillCheckpointRepo хранит прогресс исторической выгрузки.
type BackfillCheckpointRepo interface {
	LoadBackfill(ctx context.Context, channelID string) (BackfillCheckpoint, bool, error)
	SaveBackfill(ctx context.Context, checkpoint BackfillCheckpoint) error
	DeleteBackfill(ctx context.Context, channelID string) error
}

// ReactionTrackingRepo хранит базовые счётчики реакций.
type ReactionTrackingRepo interface {
	GetReactionTracking(ctx context.Context, hashes []string) (map[string]ReactionTracking, error)
	SaveReactionTracking(ctx context.Context, rows []ReactionTracking) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
