package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/testutil"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/backfill"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/channelsync"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/reactions"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *testutil.FakeStore
	feed   *testutil.FakeFeed
	router chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewFakeStore()
	feed := testutil.NewFakeFeed()
	clk := testutil.NewFakeClock(now)
	log := zerolog.Nop()
	pipeline := music.NewService(store, store, testutil.NewFakeOG(), clk, log)
	engine := ingest.NewEngine(store, store, store, feed, pipeline, ingest.Config{}, clk, log)
	r := chi.NewRouter()
	mountRoutes(r, handlers{
		sync:       channelsync.NewWorker([]domain.ChannelConfig{{ID: "music", IntervalMinutes: 5}}, store, store, feed, engine, channelsync.Config{}, clk, log),
		reactions:  reactions.NewWorker(store, store, store, store, feed, reactions.Config{}, clk, log),
		music:      pipeline,
		engine:     engine,
		backfill:   backfill.NewService(feed, store, engine, backfill.Config{}, clk, log),
		signerUUID: "default-signer",
		log:        log,
	})
	return &fixture{store: store, feed: feed, router: r}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSyncThenStatus(t *testing.T) {
	f := newFixture(t)
	f.feed.SetChannel("music", []domain.FeedCast{{Hash: "0xa", ChannelID: "music", Author: domain.Profile{FID: 1, Username: "a"}, Timestamp: now}})

	rec := f.do(http.MethodGet, "/internal/channels/music/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/internal/channels/music/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, 1, res.Processed)

	rec = f.do(http.MethodPost, "/internal/channels/music/sync", `{"force":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Skipped)

	rec = f.do(http.MethodGet, "/internal/channels/music/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cp checkpointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
	require.Equal(t, 1, cp.LastCastCount)
}

func TestProcessMusicAndLink(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertCast(context.Background(), domain.Cast{Hash: "0xa", AuthorFID: 1, Channel: "music", CreatedAt: now}))

	rec := f.do(http.MethodPost, "/internal/music/process", `{"urls":["https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC","https://example.com"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []trackResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	require.True(t, body.Results[0].Success)
	require.Equal(t, "spotify", body.Results[0].Platform)
	require.False(t, body.Results[1].Success)

	rec = f.do(http.MethodPost, "/internal/casts/0xa/tracks", `{"platform":"spotify","platform_id":"4uLU6hMCjMI75M1A2tKUQC","embed_index":0}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.store.Links("0xa"), 1)

	rec = f.do(http.MethodPost, "/internal/casts/0xa/tracks", `{"platform":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/internal/music/process", `{"urls":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncReactionsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/internal/casts/0xmissing/reactions/sync", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.UpsertCast(context.Background(), domain.Cast{Hash: "0xa", AuthorFID: 1, Channel: "music", CreatedAt: now}))
	f.feed.SetReactions("0xa", []domain.Reaction{{User: domain.Profile{FID: 2}}, {User: domain.Profile{FID: 3}}}, nil)

	rec = f.do(http.MethodPost, "/internal/casts/0xa/reactions/sync", `{"types":["likes"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"added":2}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/internal/casts/0xa/reactions/sync", `{"types":["hearts"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishUsesDefaultSigner(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/internal/casts", `{"text":"listen","channel_id":"music"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp publishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "0xpub1", resp.Hash)
	_, ok := f.store.Cast("0xpub1")
	require.True(t, ok)

	rec = f.do(http.MethodPost, "/internal/casts", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackfillStatusUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/internal/channels/music/backfill", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
