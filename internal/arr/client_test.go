package arr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "test-key", Options{Timeout: 2 * time.Second})
}

func TestRequestHeadersAndBaseNormalization(t *testing.T) {
	var got http.Header
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "/ping", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})

	// Trailing slash must have been stripped.
	assert.NotContains(t, c.BaseURL()[len(c.BaseURL())-1:], "/")

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "test-key", got.Get("X-Api-Key"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Contains(t, got.Get("User-Agent"), "fetcharr")
}

func TestStatusCategorization(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		category  Category
		retryable bool
	}{
		{401, ErrAuth, CategoryAuth, false},
		{404, ErrNotFound, CategoryNotFound, false},
		{429, ErrRateLimited, CategoryRateLimit, true},
		{500, ErrServer, CategoryServer, true},
		{503, ErrServer, CategoryServer, true},
	}
	for _, tt := range tests {
		err := newStatusError("op", tt.status, 0)
		assert.ErrorIs(t, err, tt.sentinel, "status %d", tt.status)
		assert.Equal(t, tt.category, err.Category)
		assert.Equal(t, tt.retryable, err.Retryable())
	}
}

func TestRetryOn5xxThenSuccess(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"appName":"Sonarr","version":"4.0.0"}`))
	})
	// Shrink the retry schedule indirectly by using a short test: base delay
	// is 1s so this test tolerates ~3s wall time.
	status, err := c.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sonarr", status.AppName)
	assert.Equal(t, 3, attempts)
}

func TestNoRetryOnAuthFailure(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, attempts)
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	attempts := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	start := time.Now()
	require.NoError(t, c.Ping(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, 2, attempts)
}

func TestDispatchSearchBodies(t *testing.T) {
	var body map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, jsonDecode(r, &body))
		_, _ = w.Write([]byte(`{"id":42,"name":"MoviesSearch","status":"queued"}`))
	})

	id, err := c.DispatchSearch(context.Background(), CommandMoviesSearch, []int64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "MoviesSearch", body["name"])
	assert.Len(t, body["movieIds"], 2)

	_, err = c.DispatchSearch(context.Background(), CommandEpisodeSearch, []int64{3})
	require.NoError(t, err)
	assert.Equal(t, "EpisodeSearch", body["name"])
	assert.Len(t, body["episodeIds"], 1)
}

func TestDispatchSearchRejectsEmptyIDs(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	for _, name := range []CommandName{CommandEpisodeSearch, CommandSeasonSearch, CommandMoviesSearch} {
		_, err := c.DispatchSearch(context.Background(), name, nil)
		assert.ErrorContains(t, err, "no content ids", "command %s", name)
	}
}

func jsonDecode(r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(out)
}

func TestWantedLenientParsing(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/wanted/missing", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{
			"page": 1, "pageSize": 3, "totalRecords": 3,
			"records": [
				{"id": 11, "title": "good one", "monitored": true},
				{"title": "missing id"},
				{"id": 12, "title": "good two", "monitored": true}
			]
		}`))
	})

	page, err := c.WantedMissing(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 1, page.Skipped)
	assert.Equal(t, int64(11), page.Records[0].ID)
	assert.Equal(t, int64(12), page.Records[1].ID)
}

func TestPagerWalksAllPagesAndRestarts(t *testing.T) {
	pages := map[string]string{
		"1": `{"page":1,"pageSize":2,"totalRecords":3,"records":[{"id":1,"title":"a"},{"id":2,"title":"b"}]}`,
		"2": `{"page":2,"pageSize":2,"totalRecords":3,"records":[{"id":3,"title":"c"}]}`,
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("page")]))
	})

	pager := NewPager(c, WantedMissing, 2)
	var ids []int64
	for {
		recs, err := pager.Next(context.Background())
		require.NoError(t, err)
		if recs == nil {
			break
		}
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	pager.Reset()
	recs, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
