package ingest

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
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *testutil.FakeStore
	feed   *testutil.FakeFeed
	og     *testutil.FakeOG
	engine *Engine
}

func newFixture(t *testing.T, maxDepth int) *fixture {
	t.Helper()
	store := testutil.NewFakeStore()
	feed := testutil.NewFakeFeed()
	og := testutil.NewFakeOG()
	clk := testutil.NewFakeClock(baseTime)
	pipeline := music.NewService(store, store, og, clk, zerolog.Nop())
	engine := NewEngine(store, store, store, feed, pipeline, Config{MaxParentDepth: maxDepth}, clk, zerolog.Nop())
	return &fixture{store: store, feed: feed, og: og, engine: engine}
}

func cast(hash, parent string, fid int64, minutes int, embeds ...string) domain.FeedCast {
	return domain.FeedCast{
		Hash:       hash,
		ParentHash: parent,
		ChannelID:  "music",
		Author:     domain.Profile{FID: fid, Username: fmt.Sprintf("user%d", fid)},
		Text:       "text " + hash,
		Timestamp:  baseTime.Add(time.Duration(minutes) * time.Minute),
		EmbedURLs:  embeds,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertCast(ctx, domain.Cast{Hash: "0xparent", AuthorFID: 9, Channel: "music", CreatedAt: baseTime}))

	c := cast("0xa", "0xparent", 1, 1, "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", "https://example.com")
	for i := 0; i < 2; i++ {
		res, err := f.engine.NewRun("test").Ingest(ctx, c, "music")
		require.NoError(t, err)
		require.False(t, res.Partial())
		require.True(t, res.ParentResolved)
		require.Equal(t, 1, res.Tracks)
	}

	require.Equal(t, 2, f.store.CastCount())
	require.Len(t, f.store.Edges(domain.EdgeAuthored), 1)
	require.Len(t, f.store.Edges(domain.EdgeReplied), 1)
	require.Len(t, f.store.Links("0xa"), 1)
	require.Equal(t, 1, f.store.TrackCount())
}

func TestIngestResolvesParentBeforeReply(t *testing.T) {
	f := newFixture(t, 0)
	f.feed.AddCast(cast("0xroot", "", 2, 0))
	f.feed.AddCast(cast("0xmid", "0xroot", 3, 1))

	reply := cast("0xreply", "0xmid", 1, 2)
	reply.ThreadHash = "0xroot"
	res, err := f.engine.NewRun("test").Ingest(context.Background(), reply, "music")
	require.NoError(t, err)
	require.True(t, res.ParentResolved)
	require.False(t, res.Partial())

	_, ok := f.store.Cast("0xroot")
	require.True(t, ok)
	stored, ok := f.store.Cast("0xreply")
	require.True(t, ok)
	require.Equal(t, "0xroot", stored.RootParentHash)

	replied := f.store.Edges(domain.EdgeReplied)
	require.Len(t, replied, 2)
	require.Equal(t, "0xmid", replied[0].CastHash)
	require.Equal(t, "0xroot", replied[0].ParentHash)
	require.Equal(t, "0xreply", replied[1].CastHash)
	require.Equal(t, "0xmid", replied[1].ParentHash)
	require.Equal(t, 2, f.feed.Calls("GetBulkCasts"))
}

func TestIngestSkipsReplyEdgeWhenParentMissingUpstream(t *testing.T) {
	f := newFixture(t, 0)
	res, err := f.engine.NewRun("test").Ingest(context.Background(), cast("0xorphan", "0xgone", 1, 0), "music")
	require.NoError(t, err)
	require.False(t, res.ParentResolved)
	require.False(t, res.Partial())

	_, ok := f.store.Cast("0xorphan")
	require.True(t, ok)
	require.Len(t, f.store.Edges(domain.EdgeAuthored), 1)
	require.Empty(t, f.store.Edges(domain.EdgeReplied))
}

func TestIngestStopsAtParentDepthLimit(t *testing.T) {
	f := newFixture(t, 3)
	for i := 1; i <= 6; i++ {
		parent := ""
		if i < 6 {
			parent = fmt.Sprintf("0xp%d", i+1)
		}
		f.feed.AddCast(cast(fmt.Sprintf("0xp%d", i), parent, int64(10+i), -i))
	}

	res, err := f.engine.NewRun("test").Ingest(context.Background(), cast("0xleaf", "0xp1", 1, 0), "music")
	require.NoError(t, err)
	require.True(t, res.ParentResolved)

	for i := 1; i <= 3; i++ {
		_, ok := f.store.Cast(fmt.Sprintf("0xp%d", i))
		require.True(t, ok, "ancestor %d", i)
	}
	_, ok := f.store.Cast("0xp4")
	require.False(t, ok)
	// У 0xp3 родитель за пределом глубины, поэтому REPLIED для него нет.
	require.Len(t, f.store.Edges(domain.EdgeReplied), 3)
}

func TestIngestUsesRunCacheForParents(t *testing.T) {
	f := newFixture(t, 0)
	f.feed.AddCast(cast("0xparent", "", 2, 0))
	run := f.engine.NewRun("test")

	batch := run.IngestBatch(context.Background(), []domain.FeedCast{
		cast("0xa", "0xparent", 1, 1),
		cast("0xb", "0xparent", 3, 2),
	}, "music")
	require.Equal(t, 2, batch.Ingested)
	require.Empty(t, batch.Errors)
	require.Equal(t, 1, f.feed.Calls("GetBulkCasts"))
	require.Len(t, f.store.Edges(domain.EdgeReplied), 2)
}

func TestIngestBatchIsolatesCastFailures(t *testing.T) {
	f := newFixture(t, 0)
	f.store.FailUpsertCast = func(c domain.Cast) error {
		if c.Hash == "0xbad" {
			return errors.New("db down")
		}
		return nil
	}
	batch := f.engine.NewRun("test").IngestBatch(context.Background(), []domain.FeedCast{
		cast("0xa", "", 1, 0),
		cast("0xbad", "", 2, 1),
		cast("0xc", "", 3, 2),
	}, "music")
	require.Equal(t, 2, batch.Ingested)
	require.Len(t, batch.Errors, 1)
	require.Equal(t, 2, f.store.CastCount())
}

func TestIngestEmbedFailureDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t, 0)
	badTrack := "https://tidal.com/browse/track/111"
	goodTrack := "https://tidal.com/browse/track/222"
	f.og.Fail(badTrack, errors.New("og timeout"))

	failTracks := &failingTracks{FakeStore: f.store, failID: "333"}
	clk := testutil.NewFakeClock(baseTime)
	pipeline := music.NewService(failTracks, f.store, f.og, clk, zerolog.Nop())
	engine := NewEngine(f.store, f.store, f.store, f.feed, pipeline, Config{}, clk, zerolog.Nop())

	res, err := engine.NewRun("test").Ingest(context.Background(),
		cast("0xa", "", 1, 0, badTrack, "https://tidal.com/browse/track/333", goodTrack), "music")
	require.NoError(t, err)
	require.True(t, res.Partial())
	require.Len(t, res.Errors, 1)
	require.Equal(t, 2, res.Tracks)

	links := f.store.Links("0xa")
	require.Len(t, links, 2)
	require.Equal(t, 0, links[0].EmbedIndex)
	require.Equal(t, 2, links[1].EmbedIndex)
}

type failingTracks struct {
	*testutil.FakeStore
	failID string
}

func (f *failingTracks) UpsertTrack(ctx context.Context, track domain.MusicTrack) (domain.MusicTrack, error) {
	if track.PlatformID == f.failID {
		return domain.MusicTrack{}, errors.New("constraint")
	}
	return f.FakeStore.UpsertTrack(ctx, track)
}

func TestIngestEdgeErrorsAreReportedAsPartial(t *testing.T) {
	f := newFixture(t, 0)
	f.store.FailCreateEdge = func(e domain.InteractionEdge) error {
		if e.Kind == domain.EdgeAuthored {
			return errors.New("deadlock")
		}
		return nil
	}
	res, err := f.engine.NewRun("test").Ingest(context.Background(), cast("0xa", "", 1, 0), "music")
	require.NoError(t, err)
	require.True(t, res.Partial())
	_, ok := f.store.Cast("0xa")
	require.True(t, ok)
}

func TestIngestEnrichesAuthorWithoutUsername(t *testing.T) {
	f := newFixture(t, 0)
	f.feed.AddUser(domain.Profile{FID: 5, Username: "eve", DisplayName: "Eve", PfpURL: "https://pfp"})
	c := cast("0xa", "", 5, 0)
	c.Author = domain.Profile{FID: 5}

	_, err := f.engine.NewRun("test").Ingest(context.Background(), c, "music")
	require.NoError(t, err)
	user, ok := f.store.User(5)
	require.True(t, ok)
	require.Equal(t, "eve", user.Username)
	require.Equal(t, "Eve", user.DisplayName)
}

func TestIngestRepliesWalksThread(t *testing.T) {
	f := newFixture(t, 0)
	root := cast("0xroot", "", 1, 0)
	child := cast("0xchild", "", 2, 1)
	child.Replies = []domain.FeedCast{cast("0xgrand", "", 3, 2)}
	root.Replies = []domain.FeedCast{child}

	run := f.engine.NewRun("replies")
	_, err := run.Ingest(context.Background(), root, "music")
	require.NoError(t, err)
	batch := run.IngestReplies(context.Background(), root, "music")
	require.Equal(t, 2, batch.Ingested)
	require.Equal(t, 0, f.feed.Calls("GetBulkCasts"))

	replied := f.store.Edges(domain.EdgeReplied)
	require.Len(t, replied, 2)
	require.Equal(t, "0xchild", replied[0].CastHash)
	require.Equal(t, "0xroot", replied[0].ParentHash)
	require.Equal(t, "0xgrand", replied[1].CastHash)
	require.Equal(t, "0xchild", replied[1].ParentHash)
}

func TestPublishIngestsPublishedCast(t *testing.T) {
	f := newFixture(t, 0)
	published, res, err := f.engine.Publish(context.Background(), domain.PublishCastParams{
		SignerUUID: "s", Text: "new track", ChannelID: "music",
		Embeds: []string{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"},
	})
	require.NoError(t, err)
	require.Equal(t, "0xpub1", published.Hash)
	require.Equal(t, 1, res.Tracks)
	stored, ok := f.store.Cast("0xpub1")
	require.True(t, ok)
	require.Equal(t, "music", stored.Channel)
}

func TestIngestKeepsOriginalEmbedPosition(t *testing.T) {
	f := newFixture(t, 0)
	c := cast("0xa", "", 1, 0, "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC")
	c.EmbedIndexes = []int{1}

	res, err := f.engine.NewRun("test").Ingest(context.Background(), c, "music")
	require.NoError(t, err)
	require.Equal(t, 1, res.Tracks)

	links := f.store.Links("0xa")
	require.Len(t, links, 1)
	require.Equal(t, 1, links[0].EmbedIndex)
}

func TestIngestWithoutAuthorSkipsEdges(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertCast(ctx, domain.Cast{Hash: "0xparent", AuthorFID: 9, Channel: "music", CreatedAt: baseTime}))

	c := cast("0xa", "0xparent", 0, 1)
	res, err := f.engine.NewRun("test").Ingest(ctx, c, "music")
	require.NoError(t, err)
	require.True(t, res.Partial())
	_, ok := f.store.Cast("0xa")
	require.True(t, ok)
	require.Empty(t, f.store.Edges(domain.EdgeAuthored))
	require.Empty(t, f.store.Edges(domain.EdgeReplied))
}
