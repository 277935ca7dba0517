package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (t *recordingTracker) Track(ev analytics.SearchEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

type failingSearcher struct{ err error }

func (s failingSearcher) Search(ctx context.Context, raw string) (*resolver.Response, error) {
	return nil, s.err
}

func setup(t *testing.T) (*http.ServeMux, *registry.Registry, *recordingTracker) {
	t.Helper()
	entries := []index.Entry{
		{Key: "forward_kinematics", DisplayLabel: "Forward Kinematics", Occurrences: []index.Occurrence{{Anchor: "../index.html#autotoc_md31"}}},
		{Key: "forward_and_inverse_kinematics", DisplayLabel: "Forward and Inverse Kinematics", Occurrences: []index.Occurrence{{Anchor: "../index.html#autotoc_md29"}}},
		{Key: "fsr", DisplayLabel: "FSR", Occurrences: []index.Occurrence{{Anchor: "../index.html#autotoc_md39"}}},
	}
	b := keyspace.DefaultBucketer
	shards, err := builder.Partition(entries, b)
	require.NoError(t, err)
	mem := store.NewMemoryStore()
	_, err = builder.Publish(context.Background(), mem, shards, b)
	require.NoError(t, err)

	reg, err := registry.New(mem, b, registry.Options{})
	require.NoError(t, err)
	tracker := &recordingTracker{}
	mux := http.NewServeMux()
	New(resolver.New(reg, resolver.Options{}), reg, tracker).Register(mux, middleware.AdminToken("s3cret"))
	return mux, reg, tracker
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearch(t *testing.T) {
	mux, _, tracker := setup(t)

	rec := serve(mux, http.MethodGet, "/api/v1/search?q=Forward&seq=7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp resolver.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(7), resp.Seq)
	assert.Equal(t, "forward", resp.Normalized)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "forward_kinematics", resp.Results[0].Key)
	assert.Equal(t, "../index.html#autotoc_md31", resp.Results[0].Anchor)

	require.Len(t, tracker.events, 1)
	assert.Equal(t, "forward", tracker.events[0].Normalized)
	assert.Equal(t, 2, tracker.events[0].Results)
}

func TestSearchLimit(t *testing.T) {
	mux, _, _ := setup(t)
	rec := serve(mux, http.MethodGet, "/api/v1/search?q=f&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolver.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "fsr", resp.Results[0].Key)
}

func TestSearchEmptyQuery(t *testing.T) {
	mux, reg, tracker := setup(t)
	rec := serve(mux, http.MethodGet, "/api/v1/search")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resolver.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	assert.Empty(t, tracker.events, "empty queries are not tracked")
	for _, st := range reg.Status() {
		assert.NotEqual(t, registry.StateLoaded, st.State)
	}
}

func TestSearchBadParameters(t *testing.T) {
	mux, _, _ := setup(t)
	for _, target := range []string{
		"/api/v1/search?q=a&seq=-1",
		"/api/v1/search?q=a&seq=x",
		"/api/v1/search?q=a&limit=0",
		"/api/v1/search?q=%ff",
	} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, target).Code)
		})
	}
}

func TestSearchTimeout(t *testing.T) {
	mux := http.NewServeMux()
	New(failingSearcher{err: context.DeadlineExceeded}, nil, nil).Register(mux, middleware.AdminToken(""))
	assert.Equal(t, http.StatusGatewayTimeout, serve(mux, http.MethodGet, "/api/v1/search?q=a").Code)
}

func TestShardsAndReload(t *testing.T) {
	mux, reg, _ := setup(t)
	require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/v1/search?q=fsr").Code)
	assert.Equal(t, registry.StateLoaded, reg.State("66"))

	rec := serve(mux, http.MethodGet, "/api/v1/shards")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Buckets []registry.BucketStatus `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Buckets, 1)
	assert.Equal(t, "66", body.Buckets[0].BucketID)

	assert.Equal(t, http.StatusUnauthorized, serve(mux, http.MethodPost, "/api/v1/shards/reload?bucket=66").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shards/reload?bucket=66", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, registry.StateUnloaded, reg.State("66"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/shards/reload?bucket=ZZ", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
