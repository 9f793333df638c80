package searchindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "secret"
	cfg.RetryMax = 1
	cfg.Timeout = time.Second
	return NewClient(cfg, nil), &calls
}

func TestClient_CandidateIDs(t *testing.T) {
	var body map[string]any
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/programs/_search", r.URL.Path)
		assert.Equal(t, "ApiKey secret", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		_, _ = io.WriteString(w, `{"hits":{"total":{"value":2},"hits":[{"_id":"eth-cs"},{"_id":"tum-eng"}]}}`)
	})

	ids, err := client.CandidateIDs(context.Background(), matching.FilterHints{
		PreferredFieldIDs: []string{"cs", "eng"},
		AggregateFloor:    42,
		Limit:             10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth-cs", "tum-eng"}, ids)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, float64(10), body["size"])
	filters := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Len(t, filters, 2)
}

func TestClient_EmptyHits(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})

	ids, err := client.CandidateIDs(context.Background(), matching.FilterHints{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"hits":{"hits":[{"_id":"p1"}]}}`)
	})

	ids, err := client.CandidateIDs(context.Background(), matching.FilterHints{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_FailureIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"reason":"unknown field"}}`)
	})

	_, err := client.CandidateIDs(context.Background(), matching.FilterHints{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 3; i++ {
		_, err := client.CandidateIDs(context.Background(), matching.FilterHints{})
		require.Error(t, err)
	}
	before := calls.Load()

	_, err := client.CandidateIDs(context.Background(), matching.FilterHints{})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, before, calls.Load(), "open breaker skips the request")
}

func TestBuildQuery_AggregateFloorKeepsOpenPrograms(t *testing.T) {
	q := buildQuery(matching.FilterHints{AggregateFloor: 30, ProgramIDs: []string{"a"}}, 5)

	raw, err := json.Marshal(q)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"must_not":{"exists":{"field":"min_aggregate_score"}}`)
	assert.Contains(t, s, `"lte":30`)
	assert.Contains(t, s, `"ids":{"values":["a"]}`)
}

func TestRateLimiter_Budget(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, MaxWait: 10 * time.Millisecond})
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	require.NoError(t, rl.Wait(context.Background()))
	assert.Error(t, rl.Wait(context.Background()), "next token is a second away")

	now = now.Add(time.Second)
	assert.NoError(t, rl.Wait(context.Background()))
}
