package opengraph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/testutil"
)

const trackPage = `<!doctype html>
<html><head>
<title>fallback title</title>
<meta property="og:title" content="Windowlicker">
<meta property="og:description" content="Aphex Twin · Windowlicker · Song · 1999">
<meta property="og:image" content="https://i.scdn.co/image/abc">
<meta property="og:site_name" content="Spotify">
<meta name="music:musician_description" content="Aphex Twin">
<meta name="viewport" content="width=device-width">
</head><body></body></html>`

func TestParseExtractsOpenGraph(t *testing.T) {
	meta, err := Parse(strings.NewReader(trackPage))
	require.NoError(t, err)
	require.Equal(t, "Windowlicker", meta.Title)
	require.Equal(t, "Aphex Twin", meta.Artist)
	require.Equal(t, "https://i.scdn.co/image/abc", meta.Image)
	require.Equal(t, "Spotify", meta.SiteName)
	require.NotContains(t, meta.Raw, "viewport")
	require.Equal(t, "Spotify", meta.Raw["og:site_name"])
}

func TestParseFallsBackToTitleAndDescription(t *testing.T) {
	meta, err := Parse(strings.NewReader(`<html><head><title> Some Song </title>
<meta property="og:description" content="Boards of Canada · Roygbiv"></head></html>`))
	require.NoError(t, err)
	require.Equal(t, "Some Song", meta.Title)
	require.Equal(t, "Boards of Canada", meta.Artist)
}

func TestParseReturnsPlainReadError(t *testing.T) {
	_, err := Parse(iotest.ErrReader(errors.New("connection reset")))
	require.ErrorContains(t, err, "connection reset")
	var permanent *backoff.PermanentError
	require.False(t, errors.As(err, &permanent))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(trackPage))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), Config{Timeout: time.Second, Retries: 2, UserAgent: "test-agent", RetryDelay: time.Millisecond}, zerolog.Nop())
	meta, err := f.Fetch(context.Background(), srv.URL+"/track/1")
	require.NoError(t, err)
	require.Equal(t, "Windowlicker", meta.Title)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), Config{Timeout: time.Second, Retries: 2, RetryDelay: time.Millisecond}, zerolog.Nop())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(srv.Client(), Config{Timeout: 20 * time.Millisecond, Retries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

type countingFetcher struct {
	calls int
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) (domain.OGMetadata, error) {
	f.calls++
	if f.err != nil {
		return domain.OGMetadata{}, f.err
	}
	return domain.OGMetadata{Title: "cached " + url}, nil
}

func TestCachedFetcherStoresSuccessOnly(t *testing.T) {
	cache := testutil.NewMemoryCache()
	next := &countingFetcher{}
	f := NewCachedFetcher(next, cache, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		meta, err := f.Fetch(context.Background(), "https://a")
		require.NoError(t, err)
		require.Equal(t, "cached https://a", meta.Title)
	}
	require.Equal(t, 1, next.calls)

	next.err = errors.New("boom")
	_, err := f.Fetch(context.Background(), "https://b")
	require.Error(t, err)
	_, err = f.Fetch(context.Background(), "https://b")
	require.Error(t, err)
	require.Equal(t, 3, next.calls)
}
