package domain

import "time"

// Cast описывает пост ленты в локальном хранилище.
type Cast struct {
	Hash           string
	Text           string
	AuthorFID      int64
	ParentHash     string
	RootParentHash string
	Channel        string
	CreatedAt      time.Time
	Embeds         []string
}

// IsReply сообщает, является ли каст ответом.
func (c Cast) IsReply() bool {
	return c.ParentHash != ""
}

// User хранит профиль автора или реактора.
type User struct {
	FID         int64
	Username    string
	DisplayName string
	PfpURL      string
	UpdatedAt   time.Time
}

// EdgeKind тип связи пользователя с кастом.
type EdgeKind string

const (
	EdgeAuthored EdgeKind = "AUTHORED"
	EdgeLiked    EdgeKind = "LIKED"
	EdgeRecasted EdgeKind = "RECASTED"
	EdgeReplied  EdgeKind = "REPLIED"
)

// InteractionEdge связь пользователя с кастом. Для REPLIED заполняется ParentHash.
type InteractionEdge struct {
	UserFID    int64
	CastHash   string
	Kind       EdgeKind
	ParentHash string
	CreatedAt  time.Time
}

// TrackStatus этап обработки трека.
type TrackStatus string

const (
	TrackUnfetched TrackStatus = "unfetched"
	TrackOGFetched TrackStatus = "og_fetched"
	TrackEnriched  TrackStatus = "enriched"
)

// Rank возвращает порядковый номер статуса; статус трека может только расти.
func (s TrackStatus) Rank() int {
	switch s {
	case TrackOGFetched:
		return 1
	case TrackEnriched:
		return 2
	default:
		return 0
	}
}

// Advance возвращает более поздний из двух статусов.
func (s TrackStatus) Advance(next TrackStatus) TrackStatus {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// MusicTrack трек музыкальной платформы. Идентичность задаёт пара (Platform, PlatformID).
type MusicTrack struct {
	Platform    string
	PlatformID  string
	SourceURL   string
	Title       *string
	Artist      *string
	ImageURL    *string
	RawMetadata map[string]string
	Status      TrackStatus
	FetchedAt   time.Time
}

// CastTrack связывает каст с треком и позицией эмбеда.
type CastTrack struct {
	CastHash   string
	Platform   string
	PlatformID string
	EmbedIndex int
}

// ChannelSyncCheckpoint состояние последней синхронизации канала.
type ChannelSyncCheckpoint struct {
	ChannelID     string
	LastSyncAt    time.Time
	LastCastCount int
	Success       bool
	LastError     string
}

// BackfillCheckpoint точка возобновления исторической выгрузки канала.
type BackfillCheckpoint struct {
	ChannelID  string
	Cursor     string
	LastSeenAt time.Time
	Processed  int
	StartedAt  time.Time
	UpdatedAt  time.Time
	Completed  bool
}

// ReactionTracking базовая линия для поиска изменений реакций.
type ReactionTracking struct {
	CastHash      string
	LikesCount    int
	RecastsCount  int
	LastCheckedAt time.Time
}

// ChannelConfig настройки синхронизации канала.
type ChannelConfig struct {
	ID              string
	IntervalMinutes int
}
