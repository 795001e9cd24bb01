package reddit

import (
	"context"
	"encoding/json"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/telemetry"
	"finscrape/lib/restyutil"
	"finscrape/lib/textutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type fakeReddit struct {
	tokenRequests int32
	limits        []string
	queries       []string
}

func listingJson(posts ...listingPost) map[string]any {
	children := []map[string]any{}
	for _, p := range posts {
		children = append(children, map[string]any{"kind": "t3", "data": p})
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"children": children}}
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeReddit) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenRequests, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "id", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		writeJson(w, map[string]any{"access_token": "token-1", "expires_in": 3600})
	})
	mux.HandleFunc("/r/{subreddit}/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("authorization"))
		require.Equal(t, "new", r.URL.Query().Get("sort"))
		require.Equal(t, "1", r.URL.Query().Get("restrict_sr"))
		f.limits = append(f.limits, r.URL.Query().Get("limit"))
		f.queries = append(f.queries, r.URL.Query().Get("q"))

		fresh := float64(now.Add(-time.Hour).Unix())
		stale := float64(now.AddDate(0, 0, -40).Unix())

		switch r.PathValue("subreddit") {
		case "stocks":
			writeJson(w, listingJson(
				listingPost{Title: "XTB", Selftext: "no keywords here", CreatedUtc: fresh, Subreddit: "stocks", Url: "https://reddit.com/1"},
			))
		case "finance":
			writeJson(w, listingJson(
				listingPost{Title: "XTB earnings", Selftext: "  good quarter  ", CreatedUtc: fresh, Subreddit: "finance", Url: "https://reddit.com/2"},
				listingPost{Title: "XTB", Selftext: "off topic", CreatedUtc: fresh, Subreddit: "finance"},
				listingPost{Title: "XTB stock", Selftext: "too old", CreatedUtc: stale, Subreddit: "finance"},
			))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	})
	return mux
}

func newTestSource(t *testing.T, server *httptest.Server, subreddits []string) (*Source, *telemetry.Recorder) {
	t.Helper()
	rec := &telemetry.Recorder{}
	src, err := NewSource(
		Config{
			ClientId:          "id",
			ClientSecret:      "secret",
			UserAgent:         "finscrape-test",
			Subreddits:        subreddits,
			DaysBack:          30,
			RequestsPerSecond: 1000,
			AuthUrl:           server.URL,
			ApiUrl:            server.URL,
		},
		textutil.InvestmentVocabulary(),
		restyutil.RetryOptions{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		chrono.FixedTime{At: now},
		rec,
	)
	if err != nil {
		t.Fatal(err)
	}
	return src, rec
}

func TestFetch(t *testing.T) {
	fake := &fakeReddit{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	src, rec := newTestSource(t, server, []string{"stocks", "finance", "private"})
	batch, err := src.Fetch(context.Background(), "XTB", 90)
	require.NoError(t, err)

	fresh := time.Unix(now.Add(-time.Hour).Unix(), 0).UTC()
	require.Equal(t, []post.Post{
		{
			Platform:  post.PlatformReddit,
			Text:      "XTB\nno keywords here",
			Timestamp: "2025-03-10T11:00:00Z",
			Subreddit: "stocks",
			Title:     "XTB",
			Url:       "https://reddit.com/1",
			CreatedAt: fresh,
		},
		{
			Platform:  post.PlatformReddit,
			Text:      "XTB earnings\n  good quarter",
			Timestamp: "2025-03-10T11:00:00Z",
			Subreddit: "finance",
			Title:     "XTB earnings",
			Url:       "https://reddit.com/2",
			CreatedAt: fresh,
		},
	}, batch.Posts)

	require.Len(t, batch.Units, 3)
	require.Equal(t, "r/stocks", batch.Units[0].Unit)
	require.Equal(t, 1, batch.Units[1].Fetched)
	require.Error(t, batch.Units[2].Err)
	require.Len(t, batch.Failed(), 1)
	require.Len(t, rec.Find(telemetry.LevelWarning, report_reddit_search), 1)

	require.Equal(t, int32(1), atomic.LoadInt32(&fake.tokenRequests))
	require.Equal(t, []string{"30", "30", "30"}, fake.limits)
	require.Equal(t, `("XTB" OR "xtb" OR "Xtb")`, fake.queries[0])
}

func TestFetchTokenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src, rec := newTestSource(t, server, []string{"stocks", "finance"})
	batch, err := src.Fetch(context.Background(), "XTB", 10)
	require.NoError(t, err)
	require.Empty(t, batch.Posts)
	require.Len(t, batch.Failed(), 2)
	require.Len(t, rec.Find(telemetry.LevelBroken, report_reddit_token), 2)
}

func TestFetchStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, map[string]any{"access_token": "token-1", "expires_in": 3600})
	})
	mux.HandleFunc("/r/{subreddit}/search", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	src, _ := newTestSource(t, server, []string{"stocks"})
	batch, err := src.Fetch(ctx, "XTB", 100)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, batch.Failed(), 1)
	require.Equal(t, "r/stocks", batch.Units[0].Unit)
}

func TestValidate(t *testing.T) {
	err := Config{ClientId: "id"}.Validate()
	require.EqualError(t, err, "reddit: missing client_secret, user_agent")
	require.NoError(t, Config{ClientId: "a", ClientSecret: "b", UserAgent: "c"}.Validate())
}

func TestPerSubredditLimit(t *testing.T) {
	require.Equal(t, 50, perSubredditLimit(1000, 20))
	require.Equal(t, 1, perSubredditLimit(5, 20))
	require.Equal(t, 100, perSubredditLimit(10000, 2))
	require.Equal(t, 0, perSubredditLimit(10, 0))
}
