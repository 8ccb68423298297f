package reactions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/testutil"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *testutil.FakeStore
	feed   *testutil.FakeFeed
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewFakeStore()
	feed := testutil.NewFakeFeed()
	w := NewWorker(store, store, store, store, feed, Config{}, testutil.NewFakeClock(now), zerolog.Nop())
	return &fixture{store: store, feed: feed, worker: w}
}

func (f *fixture) addCast(t *testing.T, hash string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.store.UpsertCast(context.Background(), domain.Cast{Hash: hash, AuthorFID: 1, Channel: "music", CreatedAt: now.Add(-age)}))
	f.feed.AddCast(domain.FeedCast{Hash: hash, ChannelID: "music", Author: domain.Profile{FID: 1}, Timestamp: now.Add(-age)})
}

func reactors(from, n int) []domain.Reaction {
	out := make([]domain.Reaction, 0, n)
	for i := 0; i < n; i++ {
		fid := int64(from + i)
		out = append(out, domain.Reaction{User: domain.Profile{FID: fid, Username: fmt.Sprintf("u%d", fid)}, Timestamp: now.Add(-time.Minute)})
	}
	return out
}

func TestRunOnceConvergesAfterPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.addCast(t, "0xa", time.Hour)
	f.feed.SetReactions("0xa", reactors(11, 5), nil)
	f.store.FailCreateEdge = func(e domain.InteractionEdge) error {
		if e.UserFID >= 14 {
			return errors.New("lock timeout")
		}
		return nil
	}

	stats, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Added)
	require.Equal(t, 2, stats.Failed)
	tr, ok := f.store.Tracking("0xa")
	require.True(t, ok)
	require.Equal(t, 3, tr.LikesCount)

	f.store.FailCreateEdge = nil
	stats, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Added)
	tr, _ = f.store.Tracking("0xa")
	require.Equal(t, 5, tr.LikesCount)
	require.Len(t, f.store.Edges(domain.EdgeLiked), 5)

	calls := f.feed.Calls("GetCastReactions")
	stats, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Changed)
	require.Equal(t, calls, f.feed.Calls("GetCastReactions"))
}

func TestRunOnceSkipsUnchangedCasts(t *testing.T) {
	f := newFixture(t)
	f.addCast(t, "0xa", time.Hour)
	f.addCast(t, "0xb", 2*time.Hour)
	f.feed.SetReactions("0xb", nil, reactors(20, 2))

	stats, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Checked)
	require.Equal(t, 1, stats.Changed)
	require.Equal(t, 1, f.feed.Calls("GetCastReactions"))
	require.Len(t, f.store.Edges(domain.EdgeRecasted), 2)

	tr, ok := f.store.Tracking("0xa")
	require.True(t, ok)
	require.Equal(t, 0, tr.LikesCount)
	require.Equal(t, now, tr.LastCheckedAt)
}

func TestRunOncePaginatesReactions(t *testing.T) {
	f := newFixture(t)
	f.addCast(t, "0xa", time.Hour)
	f.feed.SetReactions("0xa", reactors(1000, 250), nil)

	stats, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 250, stats.Added)
	require.Equal(t, 3, f.feed.Calls("GetCastReactions"))
	_, ok := f.store.User(1249)
	require.True(t, ok)
}

func TestRunOnceRespectsWindowAndBatches(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 150; i++ {
		f.addCast(t, fmt.Sprintf("0x%03d", i), time.Duration(i+1)*time.Minute)
	}
	f.addCast(t, "0xstale", 8*24*time.Hour)

	stats, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 150, stats.Checked)
	require.Equal(t, 2, stats.Batches)
	require.Equal(t, 2, f.feed.Calls("GetBulkCasts"))
	_, ok := f.store.Tracking("0xstale")
	require.False(t, ok)
}

func TestRunOnceIsolatesBatchFailure(t *testing.T) {
	f := newFixture(t)
	f.addCast(t, "0xa", time.Hour)
	f.feed.FailBulk = func([]string) error { return errors.New("502") }

	stats, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	_, ok := f.store.Tracking("0xa")
	require.False(t, ok)
}

func TestSyncCastReactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.worker.SyncCastReactions(ctx, "0xmissing", 0, Options{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.addCast(t, "0xa", time.Hour)
	f.feed.SetReactions("0xa", reactors(1, 4), reactors(50, 3))

	added, err := f.worker.SyncCastReactions(ctx, "0xa", 7, Options{Types: []domain.ReactionType{domain.ReactionLike}, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	added, err = f.worker.SyncCastReactions(ctx, "0xa", 7, Options{})
	require.NoError(t, err)
	require.Equal(t, 5, added)

	tr, ok := f.store.Tracking("0xa")
	require.True(t, ok)
	require.Equal(t, 4, tr.LikesCount)
	require.Equal(t, 3, tr.RecastsCount)
}
