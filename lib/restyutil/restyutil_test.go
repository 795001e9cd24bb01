package restyutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func fastRetries() RetryOptions {
	return RetryOptions{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestClientSendsUserAgent(t *testing.T) {
	var agent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("user-agent"))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL, UserAgent: "finscrape-test"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := client.R().Get("/")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "ok", res.String())
	require.Equal(t, "finscrape-test", agent.Load())
}

func TestExecuteRetriesTransientStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	res, err := Execute(context.Background(), NewExecutor(fastRetries()), func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get("/")
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", res.String())
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestExecuteGivesUp(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Execute(context.Background(), NewExecutor(fastRetries()), func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get("/")
	})
	require.Error(t, err)

	var statusErr StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Execute(context.Background(), NewExecutor(fastRetries()), func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get("/missing")
	})
	require.ErrorAs(t, err, &StatusError{})
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestExecuteReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	retries := RetryOptions{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	_, err = Execute(ctx, NewExecutor(retries), func(ctx context.Context) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get("/")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestShouldRetry(t *testing.T) {
	require.True(t, ShouldRetry(nil, errors.New("connection reset")))
	require.True(t, ShouldRetry(nil, nil))
}

func TestFilesystemOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-test", "yes")
		w.Write([]byte("dumped body"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "dumps")
	output, err := NewFilesystemOutput(dir)
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(ClientOptions{BaseUrl: server.URL, Output: output})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.R().Get("/dump")
	if err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(filepath.Join(dir, "1.http"))
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, strings.Contains(string(contents), "GET "+server.URL+"/dump"))
	require.True(t, strings.Contains(string(contents), "X-Test: yes"))
	require.True(t, strings.HasSuffix(string(contents), "dumped body"))
}

func TestRateLimitedClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL, RequestsPerSecond: 20})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_, err := client.R().Get("/")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.R().SetContext(ctx).Get("/")
	require.Error(t, err)
}
