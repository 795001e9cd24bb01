package meta

import (
	"context"
	"finscrape/internal/chrono"
	"finscrape/internal/post"
	"finscrape/internal/telemetry"
	"finscrape/lib/restyutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

var fastRetry = restyutil.RetryOptions{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

const longText = "Kurs akcji XTB wzrósł dziś o pięć procent po publikacji wyników kwartalnych"

func TestInstagram(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/explore/tags/cdprojekt/", r.URL.Path)
		require.Equal(t, "sessionid=abc", r.Header.Get("cookie"))
		w.Write([]byte(`<html><body>
			<article><p>first</p></article>
			<article>   </article>
			<article>second <b>post</b></article>
			<article>third</article>
		</body></html>`))
	}))
	defer server.Close()

	src, err := NewInstagram(
		Config{InstagramUrl: server.URL, Cookie: "sessionid=abc", RequestsPerSecond: 1000},
		fastRetry, chrono.FixedTime{At: now}, &telemetry.Recorder{},
	)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "instagram", src.Name())

	batch, err := src.Fetch(context.Background(), "CD Projekt", 2)
	require.NoError(t, err)
	require.Equal(t, []post.Post{
		{Platform: post.PlatformInstagram, Text: "first", Timestamp: "2025-03-10T12:00:00Z"},
		{Platform: post.PlatformInstagram, Text: "second post", Timestamp: "2025-03-10T12:00:00Z"},
	}, batch.Posts)
	require.Len(t, batch.Units, 1)
	require.Equal(t, 2, batch.Units[0].Fetched)
}

func TestFacebook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/posts/", r.URL.Path)
		require.Equal(t, "Żabka IPO", r.URL.Query().Get("q"))
		w.Write([]byte(`<html><body>
			<div>Log in</div>
			<div>` + longText + `</div>
		</body></html>`))
	}))
	defer server.Close()

	src, err := NewFacebook(
		Config{FacebookUrl: server.URL, RequestsPerSecond: 1000},
		fastRetry, chrono.FixedTime{At: now}, &telemetry.Recorder{},
	)
	if err != nil {
		t.Fatal(err)
	}

	batch, err := src.Fetch(context.Background(), "Żabka IPO", 10)
	require.NoError(t, err)
	require.Len(t, batch.Posts, 1)
	require.Equal(t, post.PlatformFacebook, batch.Posts[0].Platform)
	require.Equal(t, longText, batch.Posts[0].Text)
}

func TestPageFailureIsAUnitResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rec := &telemetry.Recorder{}
	src, err := NewInstagram(
		Config{InstagramUrl: server.URL, RequestsPerSecond: 1000},
		fastRetry, chrono.FixedTime{At: now}, rec,
	)
	if err != nil {
		t.Fatal(err)
	}

	batch, err := src.Fetch(context.Background(), "Bitcoin", 10)
	require.NoError(t, err)
	require.Empty(t, batch.Posts)
	require.Len(t, batch.Failed(), 1)
	require.True(t, strings.HasPrefix(batch.Units[0].Unit, "/explore/tags/bitcoin/"))
	require.Len(t, rec.Find(telemetry.LevelWarning, report_meta_page), 1)
}
