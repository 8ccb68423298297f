package neynar

import (
	"strings"
	"time"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

type wireUser struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

type wireEmbed struct {
	URL string `json:"url"`
}

type wireCast struct {
	Hash       string      `json:"hash"`
	ThreadHash string      `json:"thread_hash"`
	ParentHash string      `json:"parent_hash"`
	ParentURL  string      `json:"parent_url"`
	Author     wireUser    `json:"author"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	Embeds     []wireEmbed `json:"embeds"`
	Channel    *struct {
		ID string `json:"id"`
	} `json:"channel"`
	Reactions struct {
		LikesCount   int `json:"likes_count"`
		RecastsCount int `json:"recasts_count"`
	} `json:"reactions"`
	Replies struct {
		Count int `json:"count"`
	} `json:"replies"`
	DirectReplies []wireCast `json:"direct_replies"`
}

type wireNext struct {
	Cursor string `json:"cursor"`
}

type feedResponse struct {
	Casts []wireCast `json:"casts"`
	Next  wireNext   `json:"next"`
}

type conversationResponse struct {
	Conversation struct {
		Cast wireCast `json:"cast"`
	} `json:"conversation"`
}

type bulkCastsResponse struct {
	Result struct {
		Casts []wireCast `json:"casts"`
	} `json:"result"`
}

type bulkUsersResponse struct {
	Users []wireUser `json:"users"`
}

type wireReaction struct {
	ReactionType      string    `json:"reaction_type"`
	ReactionTimestamp time.Time `json:"reaction_timestamp"`
	User              wireUser  `json:"user"`
}

type reactionsResponse struct {
	Reactions []wireReaction `json:"reactions"`
	Next      wireNext       `json:"next"`
}

type publishResponse struct {
	Success bool `json:"success"`
	Cast    struct {
		Hash   string   `json:"hash"`
		Author wireUser `json:"author"`
	} `json:"cast"`
}

func (u wireUser) profile() domain.Profile {
	return domain.Profile{
		FID:         u.FID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PfpURL:      u.PfpURL,
	}
}

func (c wireCast) feedCast() domain.FeedCast {
	out := domain.FeedCast{
		Hash:         c.Hash,
		ThreadHash:   c.ThreadHash,
		ParentHash:   c.ParentHash,
		ParentURL:    c.ParentURL,
		Author:       c.Author.profile(),
		Text:         c.Text,
		Timestamp:    c.Timestamp.UTC(),
		LikesCount:   c.Reactions.LikesCount,
		RecastsCount: c.Reactions.RecastsCount,
		RepliesCount: c.Replies.Count,
	}
	if c.Channel != nil {
		out.ChannelID = c.Channel.ID
	}
	for i, embed := range c.Embeds {
		if u := strings.TrimSpace(embed.URL); u != "" {
			out.EmbedURLs = append(out.EmbedURLs, u)
			out.EmbedIndexes = append(out.EmbedIndexes, i)
		}
	}
	for _, reply := range c.DirectReplies {
		out.Replies = append(out.Replies, reply.feedCast())
	}
	return out
}

func mapCasts(in []wireCast) []domain.FeedCast {
	out := make([]domain.FeedCast, 0, len(in))
	for _, c := range in {
		out = append(out, c.feedCast())
	}
	return out
}
