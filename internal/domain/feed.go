package domain

import "time"

// Profile профиль пользователя в представлении внешнего API.
type Profile struct {
	FID         int64
	Username    string
	DisplayName string
	PfpURL      string
}

// FeedCast каст в представлении внешнего API.
type FeedCast struct {
	Hash         string
	ThreadHash   string
	ParentHash   string
	ParentURL    string
	ChannelID    string
	Author       Profile
	Text         string
	Timestamp    time.Time
	EmbedURLs    []string
	// EmbedIndexes позиции EmbedURLs среди всех вложений каста; пустой срез означает совпадение с индексом.
	EmbedIndexes []int
	LikesCount   int
	RecastsCount int
	RepliesCount int
	Replies      []FeedCast
}

// EmbedPosition возвращает позицию i-го URL среди всех вложений каста.
func (c FeedCast) EmbedPosition(i int) int {
	if i < len(c.EmbedIndexes) {
		return c.EmbedIndexes[i]
	}
	return i
}

// FeedPage страница ленты канала.
type FeedPage struct {
	Casts      []FeedCast
	NextCursor string
}

// ReactionType тип реакции во внешнем API.
type ReactionType string

const (
	ReactionLike   ReactionType = "likes"
	ReactionRecast ReactionType = "recasts"
)

// EdgeKind возвращает тип ребра для реакции.
func (t ReactionType) EdgeKind() EdgeKind {
	if t == ReactionRecast {
		return EdgeRecasted
	}
	return EdgeLiked
}

// Reaction одна реакция пользователя.
type Reaction struct {
	User      Profile
	Timestamp time.Time
}

// ReactionPage страница реакций на каст.
type ReactionPage struct {
	Likes      []Reaction
	Recasts    []Reaction
	NextCursor string
}

// ReactionQuery параметры запроса реакций.
type ReactionQuery struct {
	Types     []ReactionType
	Limit     int
	Cursor    string
	ViewerFID int64
}

// PublishCastParams параметры публикации каста.
type PublishCastParams struct {
	SignerUUID string   `json:"signer_uuid"`
	Text       string   `json:"text"`
	ChannelID  string   `json:"channel_id,omitempty"`
	Embeds     []string `json:"embeds,omitempty"`
	Parent     string   `json:"parent,omitempty"`
}

// PublishedCast результат публикации.
type PublishedCast struct {
	Hash   string
	Author Profile
}
