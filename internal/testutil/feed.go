package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

// FakeFeed in-memory реализация domain.FeedClient. Курсор страницы равен смещению.
type FakeFeed struct {
	mu sync.Mutex

	channels  map[string][]domain.FeedCast
	casts     map[string]domain.FeedCast
	users     map[int64]domain.Profile
	likes     map[string][]domain.Reaction
	recasts   map[string][]domain.Reaction
	calls     map[string]int
	published int

	// FailList возвращает ошибку для запроса страницы ленты; nil означает успех.
	FailList func(channelID, cursor string) error
	// FailBulk возвращает ошибку для bulk-запроса кастов.
	FailBulk func(hashes []string) error
}

// NewFakeFeed создаёт пустую ленту.
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		channels: make(map[string][]domain.FeedCast),
		casts:    make(map[string]domain.FeedCast),
		users:    make(map[int64]domain.Profile),
		likes:    make(map[string][]domain.Reaction),
		recasts:  make(map[string][]domain.Reaction),
		calls:    make(map[string]int),
	}
}

var _ domain.FeedClient = (*FakeFeed)(nil)

// SetChannel задаёт ленту канала, от новых к старым. Касты становятся доступны для bulk-запросов.
func (f *FakeFeed) SetChannel(channelID string, casts []domain.FeedCast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channelID] = append([]domain.FeedCast(nil), casts...)
	for _, c := range casts {
		f.casts[c.Hash] = c
	}
}

// AddCast делает каст доступным только через bulk-запрос и conversation.
func (f *FakeFeed) AddCast(cast domain.FeedCast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casts[cast.Hash] = cast
}

// AddUser регистрирует профиль.
func (f *FakeFeed) AddUser(profile domain.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[profile.FID] = profile
}

// SetReactions задаёт реакции каста и обновляет счётчики в кастах.
func (f *FakeFeed) SetReactions(hash string, likes, recasts []domain.Reaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes[hash] = likes
	f.recasts[hash] = recasts
	if c, ok := f.casts[hash]; ok {
		c.LikesCount = len(likes)
		c.RecastsCount = len(recasts)
		f.casts[hash] = c
	}
}

// Calls число вызовов метода.
func (f *FakeFeed) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls суммарное число вызовов.
func (f *FakeFeed) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func offset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad cursor %q", cursor)
	}
	return n, nil
}

func (f *FakeFeed) ListChannelFeed(ctx context.Context, channelID, cursor string, limit int) (domain.FeedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListChannelFeed"]++
	if f.FailList != nil {
		if err := f.FailList(channelID, cursor); err != nil {
			return domain.FeedPage{}, err
		}
	}
	start, err := offset(cursor)
	if err != nil {
		return domain.FeedPage{}, err
	}
	all := f.channels[channelID]
	if limit <= 0 {
		limit = 25
	}
	if start >= len(all) {
		return domain.FeedPage{}, nil
	}
	end := start + limit
	page := domain.FeedPage{}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	} else {
		end = len(all)
	}
	for _, c := range all[start:end] {
		page.Casts = append(page.Casts, f.withCounts(c))
	}
	return page, nil
}

func (f *FakeFeed) withCounts(c domain.FeedCast) domain.FeedCast {
	if stored, ok := f.casts[c.Hash]; ok {
		c.LikesCount = stored.LikesCount
		c.RecastsCount = stored.RecastsCount
	}
	return c
}

func (f *FakeFeed) GetCastWithReplies(ctx context.Context, hash string, replyDepth int) (domain.FeedCast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetCastWithReplies"]++
	c, ok := f.casts[hash]
	if !ok {
		return domain.FeedCast{}, fmt.Errorf("cast %s: %w", hash, domain.ErrNotFound)
	}
	return c, nil
}

func (f *FakeFeed) GetBulkCasts(ctx context.Context, hashes []string) ([]domain.FeedCast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetBulkCasts"]++
	if f.FailBulk != nil {
		if err := f.FailBulk(hashes); err != nil {
			return nil, err
		}
	}
	out := make([]domain.FeedCast, 0, len(hashes))
	for _, h := range hashes {
		if c, ok := f.casts[h]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeFeed) GetUserByFID(ctx context.Context, fid int64) (domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetUserByFID"]++
	p, ok := f.users[fid]
	if !ok {
		return domain.Profile{}, fmt.Errorf("user %d: %w", fid, domain.ErrNotFound)
	}
	return p, nil
}

func (f *FakeFeed) GetCastReactions(ctx context.Context, hash string, query domain.ReactionQuery) (domain.ReactionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetCastReactions"]++
	start, err := offset(query.Cursor)
	if err != nil {
		return domain.ReactionPage{}, err
	}
	limit := query.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	types := query.Types
	if len(types) == 0 {
		types = []domain.ReactionType{domain.ReactionLike, domain.ReactionRecast}
	}
	page := domain.ReactionPage{}
	more := false
	for _, t := range types {
		src := f.likes[hash]
		if t == domain.ReactionRecast {
			src = f.recasts[hash]
		}
		if start >= len(src) {
			continue
		}
		end := start + limit
		if end < len(src) {
			more = true
		} else {
			end = len(src)
		}
		if t == domain.ReactionRecast {
			page.Recasts = append(page.Recasts, src[start:end]...)
		} else {
			page.Likes = append(page.Likes, src[start:end]...)
		}
	}
	if more {
		page.NextCursor = strconv.Itoa(start + limit)
	}
	return page, nil
}

func (f *FakeFeed) PublishCast(ctx context.Context, params domain.PublishCastParams) (domain.PublishedCast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PublishCast"]++
	f.published++
	author := domain.Profile{FID: 1, Username: "publisher"}
	hash := fmt.Sprintf("0xpub%d", f.published)
	f.casts[hash] = domain.FeedCast{
		Hash:       hash,
		ParentHash: params.Parent,
		ChannelID:  params.ChannelID,
		Author:     author,
		Text:       params.Text,
		EmbedURLs:  params.Embeds,
	}
	return domain.PublishedCast{Hash: hash, Author: author}, nil
}

// FakeOG отдаёт заранее заданные метаданные.
type FakeOG struct {
	mu    sync.Mutex
	pages map[string]domain.OGMetadata
	errs  map[string]error
	calls int
	// Err возвращается для всех неизвестных URL, если задан.
	Err error
}

func NewFakeOG() *FakeOG {
	return &FakeOG{pages: make(map[string]domain.OGMetadata), errs: make(map[string]error)}
}

var _ domain.OGFetcher = (*FakeOG)(nil)

// Set задаёт метаданные для URL.
func (f *FakeOG) Set(url string, meta domain.OGMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = meta
}

// Fail задаёт ошибку для URL.
func (f *FakeOG) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Calls число загрузок.
func (f *FakeOG) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeOG) Fetch(ctx context.Context, url string) (domain.OGMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[url]; ok {
		return domain.OGMetadata{}, err
	}
	if meta, ok := f.pages[url]; ok {
		return meta, nil
	}
	if f.Err != nil {
		return domain.OGMetadata{}, f.Err
	}
	return domain.OGMetadata{Title: url}, nil
}
