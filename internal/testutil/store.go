package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

type edgeKey struct {
	user int64
	hash string
	kind domain.EdgeKind
}

type trackKey struct {
	platform string
	id       string
}

type linkKey struct {
	hash  string
	track trackKey
}

// ErrForeignKey имитирует нарушение внешнего ключа.
var ErrForeignKey = errors.New("foreign key violation")

// FakeStore in-memory реализация всех репозиториев с теми же ограничениями уникальности, что и схема.
type FakeStore struct {
	mu sync.Mutex

	casts     map[string]domain.Cast
	users     map[int64]domain.User
	edges     map[edgeKey]domain.InteractionEdge
	authored  map[string]struct{}
	tracks    map[trackKey]domain.MusicTrack
	links     map[linkKey]domain.CastTrack
	queue     map[trackKey]struct{}
	syncs     map[string]domain.ChannelSyncCheckpoint
	backfills map[string]domain.BackfillCheckpoint
	tracking  map[string]domain.ReactionTracking

	// Хуки для внедрения ошибок; nil означает успех.
	FailUpsertCast   func(cast domain.Cast) error
	FailCreateEdge   func(edge domain.InteractionEdge) error
	FailSaveSync     func(cp domain.ChannelSyncCheckpoint) error
	FailSaveBackfill func(cp domain.BackfillCheckpoint) error

	upsertCastCalls int
}

// NewFakeStore создаёт пустое хранилище.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		casts:     make(map[string]domain.Cast),
		users:     make(map[int64]domain.User),
		edges:     make(map[edgeKey]domain.InteractionEdge),
		authored:  make(map[string]struct{}),
		tracks:    make(map[trackKey]domain.MusicTrack),
		links:     make(map[linkKey]domain.CastTrack),
		queue:     make(map[trackKey]struct{}),
		syncs:     make(map[string]domain.ChannelSyncCheckpoint),
		backfills: make(map[string]domain.BackfillCheckpoint),
		tracking:  make(map[string]domain.ReactionTracking),
	}
}

var (
	_ domain.CastRepo               = (*FakeStore)(nil)
	_ domain.UserRepo               = (*FakeStore)(nil)
	_ domain.EdgeRepo               = (*FakeStore)(nil)
	_ domain.TrackRepo              = (*FakeStore)(nil)
	_ domain.EnrichmentQueue        = (*FakeStore)(nil)
	_ domain.SyncCheckpointRepo     = (*FakeStore)(nil)
	_ domain.BackfillCheckpointRepo = (*FakeStore)(nil)
	_ domain.ReactionTrackingRepo   = (*FakeStore)(nil)
)

func (s *FakeStore) UpsertCast(ctx context.Context, cast domain.Cast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCastCalls++
	if s.FailUpsertCast != nil {
		if err := s.FailUpsertCast(cast); err != nil {
			return err
		}
	}
	if prev, ok := s.casts[cast.Hash]; ok {
		if cast.ParentHash == "" {
			cast.ParentHash = prev.ParentHash
		}
		if cast.RootParentHash == "" {
			cast.RootParentHash = prev.RootParentHash
		}
		if cast.Channel == "" {
			cast.Channel = prev.Channel
		}
	}
	s.casts[cast.Hash] = cast
	return nil
}

func (s *FakeStore) CastExists(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.casts[hash]
	return ok, nil
}

func (s *FakeStore) LatestCastTimestamp(ctx context.Context, channelID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest time.Time
		found  bool
	)
	for _, c := range s.casts {
		if c.Channel != channelID {
			continue
		}
		if !found || c.CreatedAt.After(latest) {
			latest = c.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}

func (s *FakeStore) ListCastHashesSince(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	casts := make([]domain.Cast, 0, len(s.casts))
	for _, c := range s.casts {
		if !c.CreatedAt.Before(since) {
			casts = append(casts, c)
		}
	}
	sort.Slice(casts, func(i, j int) bool {
		if casts[i].CreatedAt.Equal(casts[j].CreatedAt) {
			return casts[i].Hash < casts[j].Hash
		}
		return casts[i].CreatedAt.After(casts[j].CreatedAt)
	})
	out := make([]string, 0, len(casts))
	for _, c := range casts {
		out = append(out, c.Hash)
	}
	return out, nil
}

func (s *FakeStore) UpsertUser(ctx context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[user.FID]; ok {
		if user.Username == "" {
			user.Username = prev.Username
		}
		if user.DisplayName == "" {
			user.DisplayName = prev.DisplayName
		}
		if user.PfpURL == "" {
			user.PfpURL = prev.PfpURL
		}
	}
	s.users[user.FID] = user
	return nil
}

func (s *FakeStore) CreateEdge(ctx context.Context, edge domain.InteractionEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateEdge != nil {
		if err := s.FailCreateEdge(edge); err != nil {
			return err
		}
	}
	if edge.ParentHash != "" {
		if _, ok := s.casts[edge.ParentHash]; !ok {
			return fmt.Errorf("edge parent %s: %w", edge.ParentHash, ErrForeignKey)
		}
	}
	key := edgeKey{user: edge.UserFID, hash: edge.CastHash, kind: edge.Kind}
	if _, ok := s.edges[key]; ok {
		return fmt.Errorf("edge %s: %w", edge.Kind, domain.ErrAlreadyExists)
	}
	if edge.Kind == domain.EdgeAuthored {
		if _, ok := s.authored[edge.CastHash]; ok {
			return fmt.Errorf("authored %s: %w", edge.CastHash, domain.ErrAlreadyExists)
		}
		s.authored[edge.CastHash] = struct{}{}
	}
	s.edges[key] = edge
	return nil
}

func (s *FakeStore) CountEdges(ctx context.Context, castHash string, kind domain.EdgeKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.edges {
		if key.hash == castHash && key.kind == kind {
			count++
		}
	}
	return count, nil
}

func (s *FakeStore) UpsertTrack(ctx context.Context, track domain.MusicTrack) (domain.MusicTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackKey{platform: track.Platform, id: track.PlatformID}
	if track.Status == "" {
		track.Status = domain.TrackUnfetched
	}
	if prev, ok := s.tracks[key]; ok {
		if track.Title == nil {
			track.Title = prev.Title
		}
		if track.Artist == nil {
			track.Artist = prev.Artist
		}
		if track.ImageURL == nil {
			track.ImageURL = prev.ImageURL
		}
		if track.RawMetadata == nil {
			track.RawMetadata = prev.RawMetadata
		}
		track.Status = prev.Status.Advance(track.Status)
	}
	s.tracks[key] = track
	return track, nil
}

func (s *FakeStore) LinkTrackToCast(ctx context.Context, link domain.CastTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk := trackKey{platform: link.Platform, id: link.PlatformID}
	if _, ok := s.casts[link.CastHash]; !ok {
		return fmt.Errorf("link cast %s: %w", link.CastHash, ErrForeignKey)
	}
	if _, ok := s.tracks[tk]; !ok {
		return fmt.Errorf("link track %s/%s: %w", link.Platform, link.PlatformID, ErrForeignKey)
	}
	key := linkKey{hash: link.CastHash, track: tk}
	if _, ok := s.links[key]; ok {
		return nil
	}
	s.links[key] = link
	return nil
}

func (s *FakeStore) EnqueueIfAbsent(ctx context.Context, platform, platformID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackKey{platform: platform, id: platformID}
	if _, ok := s.queue[key]; ok {
		return false, nil
	}
	s.queue[key] = struct{}{}
	return true, nil
}

func (s *FakeStore) GetChannelSync(ctx context.Context, channelID string) (domain.ChannelSyncCheckpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.syncs[channelID]
	return cp, ok, nil
}

func (s *FakeStore) SaveChannelSync(ctx context.Context, cp domain.ChannelSyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaveSync != nil {
		if err := s.FailSaveSync(cp); err != nil {
			return err
		}
	}
	s.syncs[cp.ChannelID] = cp
	return nil
}

func (s *FakeStore) LoadBackfill(ctx context.Context, channelID string) (domain.BackfillCheckpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.backfills[channelID]
	return cp, ok, nil
}

func (s *FakeStore) SaveBackfill(ctx context.Context, cp domain.BackfillCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaveBackfill != nil {
		if err := s.FailSaveBackfill(cp); err != nil {
			return err
		}
	}
	cp.UpdatedAt = time.Now().UTC()
	s.backfills[cp.ChannelID] = cp
	return nil
}

func (s *FakeStore) DeleteBackfill(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backfills, channelID)
	return nil
}

func (s *FakeStore) GetReactionTracking(ctx context.Context, hashes []string) (map[string]domain.ReactionTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ReactionTracking, len(hashes))
	for _, h := range hashes {
		if row, ok := s.tracking[h]; ok {
			out[h] = row
		}
	}
	return out, nil
}

func (s *FakeStore) SaveReactionTracking(ctx context.Context, rows []domain.ReactionTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tracking[row.CastHash] = row
	}
	return nil
}

// Cast возвращает сохранённый каст.
func (s *FakeStore) Cast(hash string) (domain.Cast, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.casts[hash]
	return c, ok
}

// CastCount количество кастов в хранилище.
func (s *FakeStore) CastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.casts)
}

// UpsertCastCalls количество вызовов UpsertCast.
func (s *FakeStore) UpsertCastCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCastCalls
}

// User возвращает сохранённый профиль.
func (s *FakeStore) User(fid int64) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[fid]
	return u, ok
}

// Edges возвращает связи заданного типа, отсортированные по касту и пользователю.
func (s *FakeStore) Edges(kind domain.EdgeKind) []domain.InteractionEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InteractionEdge
	for key, e := range s.edges {
		if key.kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CastHash == out[j].CastHash {
			return out[i].UserFID < out[j].UserFID
		}
		return out[i].CastHash < out[j].CastHash
	})
	return out
}

// Track возвращает трек по идентичности.
func (s *FakeStore) Track(platform, id string) (domain.MusicTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[trackKey{platform: platform, id: id}]
	return t, ok
}

// TrackCount количество треков.
func (s *FakeStore) TrackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// Links возвращает связи каста с треками, отсортированные по позиции эмбеда.
func (s *FakeStore) Links(hash string) []domain.CastTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CastTrack
	for key, l := range s.links {
		if key.hash == hash {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmbedIndex < out[j].EmbedIndex })
	return out
}

// QueueLen размер очереди обогащения.
func (s *FakeStore) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Tracking возвращает базовую линию реакций каста.
func (s *FakeStore) Tracking(hash string) (domain.ReactionTracking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tracking[hash]
	return row, ok
}
