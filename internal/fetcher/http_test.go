package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		RatePerHost: 1000,
		Burst:       1000,
		BackoffBase: time.Millisecond,
	})
}

func TestDownload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "identity-cli/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("plan_code\nFP0001\n"))
	}))
	defer srv.Close()

	body, err := testFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FP0001")
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorContains(t, err, "retries exhausted")
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("batch-data"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "batch.csv")
	n, err := testFetcher().DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("batch-data")), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "batch-data", string(data))
}

func TestAdaptiveLimiter_Tuning(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 5)

	lim.OnSuccess()
	assert.InDelta(t, 12, float64(lim.Limit()), 1e-9)

	// Capped at 2x initial.
	for i := 0; i < 10; i++ {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20, float64(lim.Limit()), 1e-9)

	// Halved per 429, floored at initial/4.
	lim.OnRateLimit()
	assert.InDelta(t, 10, float64(lim.Limit()), 1e-9)
	for i := 0; i < 10; i++ {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 1e-9)
}

func TestLimiterFor_PerHostReuse(t *testing.T) {
	f := testFetcher()
	a := f.limiterFor("http://host-a.example/batch.csv")
	b := f.limiterFor("http://host-a.example/other.csv")
	c := f.limiterFor("http://host-b.example/batch.csv")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, rate.Limit(1000), a.Limit())
}
