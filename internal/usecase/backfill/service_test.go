package backfill

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
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *testutil.FakeStore
	feed    *testutil.FakeFeed
	clock   *testutil.FakeClock
	service *Service
}

func newFixture(t *testing.T, casts []domain.FeedCast) *fixture {
	t.Helper()
	store := testutil.NewFakeStore()
	feed := testutil.NewFakeFeed()
	clk := testutil.NewFakeClock(now)
	pipeline := music.NewService(store, store, testutil.NewFakeOG(), clk, zerolog.Nop())
	engine := ingest.NewEngine(store, store, store, feed, pipeline, ingest.Config{}, clk, zerolog.Nop())
	feed.SetChannel("music", casts)
	return &fixture{
		store:   store,
		feed:    feed,
		clock:   clk,
		service: NewService(feed, store, engine, Config{PageSize: 2, PageDelay: time.Second}, clk, zerolog.Nop()),
	}
}

// history возвращает n кастов от новых к старым, с шагом в минуту.
func history(n int) []domain.FeedCast {
	out := make([]domain.FeedCast, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.FeedCast{
			Hash:      fmt.Sprintf("0x%02d", i),
			ChannelID: "music",
			Author:    domain.Profile{FID: int64(i), Username: fmt.Sprintf("u%d", i)},
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestRunResumesAfterInterruption(t *testing.T) {
	fresh := newFixture(t, history(10))
	want, err := fresh.service.Run(context.Background(), Request{Channel: "music"})
	require.NoError(t, err)
	require.True(t, want.Completed)
	require.Equal(t, 5, want.Pages)

	f := newFixture(t, history(10))
	f.feed.FailList = func(_, cursor string) error {
		if cursor == "4" {
			return errors.New("connection reset")
		}
		return nil
	}
	res, err := f.service.Run(context.Background(), Request{Channel: "music"})
	require.Error(t, err)
	require.Equal(t, 2, res.Pages)
	require.False(t, res.Completed)

	cp, err := f.service.Status(context.Background(), "music")
	require.NoError(t, err)
	require.Equal(t, "4", cp.Cursor)
	require.Equal(t, 4, cp.Processed)
	require.Equal(t, now.Add(-4*time.Minute), cp.LastSeenAt)

	f.feed.FailList = nil
	calls := f.feed.Calls("ListChannelFeed")
	res, err = f.service.Run(context.Background(), Request{Channel: "music"})
	require.NoError(t, err)
	require.True(t, res.Resumed)
	require.True(t, res.Completed)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 3, f.feed.Calls("ListChannelFeed")-calls)
	require.Equal(t, fresh.store.CastCount(), f.store.CastCount())
	require.Equal(t, want.Total, res.Total)
}

func TestRunFiltersDateRange(t *testing.T) {
	f := newFixture(t, history(10))
	res, err := f.service.Run(context.Background(), Request{
		Channel: "music",
		From:    now.Add(-5*time.Minute - 30*time.Second),
		To:      now.Add(-2*time.Minute - 30*time.Second),
	})
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 3, res.Processed)
	for _, hash := range []string{"0x03", "0x04", "0x05"} {
		_, ok := f.store.Cast(hash)
		require.True(t, ok, hash)
	}
	_, ok := f.store.Cast("0x06")
	require.False(t, ok)
}

func TestRunSleepsBetweenPages(t *testing.T) {
	f := newFixture(t, history(6))
	_, err := f.service.Run(context.Background(), Request{Channel: "music"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second, time.Second}, f.clock.Sleeps())
}

func TestRunAfterCompletionNeedsReset(t *testing.T) {
	f := newFixture(t, history(4))
	ctx := context.Background()
	_, err := f.service.Run(ctx, Request{Channel: "music"})
	require.NoError(t, err)
	calls := f.feed.Calls("ListChannelFeed")

	res, err := f.service.Run(ctx, Request{Channel: "music"})
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, 0, res.Pages)
	require.Equal(t, calls, f.feed.Calls("ListChannelFeed"))

	res, err = f.service.Run(ctx, Request{Channel: "music", Reset: true})
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 4, res.Total)
	require.False(t, res.Resumed)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, history(4))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Run(ctx, Request{Channel: "music"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, f.feed.Calls("ListChannelFeed"))
}

func TestRunCancelledMidPageRedoesPage(t *testing.T) {
	f := newFixture(t, history(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.FailUpsertCast = func(c domain.Cast) error {
		if c.Hash == "0x04" {
			cancel()
		}
		return nil
	}

	_, err := f.service.Run(ctx, Request{Channel: "music"})
	require.ErrorIs(t, err, context.Canceled)
	_, ok := f.store.Cast("0x03")
	require.False(t, ok)

	cp, err := f.service.Status(context.Background(), "music")
	require.NoError(t, err)
	require.Equal(t, "2", cp.Cursor)
	require.Equal(t, 2, cp.Processed)

	f.store.FailUpsertCast = nil
	res, err := f.service.Run(context.Background(), Request{Channel: "music"})
	require.NoError(t, err)
	require.True(t, res.Resumed)
	require.True(t, res.Completed)
	_, ok = f.store.Cast("0x03")
	require.True(t, ok)
	require.Equal(t, 10, f.store.CastCount())
}

func TestRunRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Run(context.Background(), Request{Channel: "music", From: now, To: now.Add(-time.Hour)})
	require.Error(t, err)
}
