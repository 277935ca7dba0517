// Package handler exposes the resolver and the shard registry over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/resolver"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, raw string) (*resolver.Response, error)
}

type ShardRegistry interface {
	Status() []registry.BucketStatus
	Reload(bucketIDs ...string)
}

type Handler struct {
	searcher Searcher
	shards   ShardRegistry
	tracker  analytics.Tracker
	logger   *slog.Logger
}

// New returns a handler; tracker may be nil.
func New(s Searcher, shards ShardRegistry, tracker analytics.Tracker) *Handler {
	return &Handler{
		searcher: s,
		shards:   shards,
		tracker:  tracker,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API on mux. admin wraps the endpoints that change
// registry state.
func (h *Handler) Register(mux *http.ServeMux, admin func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/shards", h.Shards)
	mux.Handle("POST /api/v1/shards/reload", admin(http.HandlerFunc(h.Reload)))
}

// Search handles GET /api/v1/search?q=<raw>&seq=<n>&limit=<n>. seq is
// echoed back so a client can drop responses older than the newest it
// displayed. A missing q is the empty query.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	params := r.URL.Query()

	var seq uint64
	if v := params.Get("seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "seq must be a non-negative integer")
			return
		}
		seq = n
		ctx = logger.WithQuerySeq(ctx, seq)
	}
	limit := 0
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	query := params.Get("q")
	resp, err := h.searcher.Search(ctx, query)
	if err != nil {
		h.searchFailed(w, r, query, err)
		return
	}
	resp.Seq = seq
	if limit > 0 && len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}

	latency := time.Since(start)
	if h.tracker != nil && resp.Normalized != "" {
		h.tracker.Track(analytics.SearchEvent{
			Query:         query,
			Normalized:    resp.Normalized,
			Results:       len(resp.Results),
			ShardsQueried: resp.ShardsQueried,
			Warnings:      len(resp.Warnings),
			LatencyMs:     latency.Milliseconds(),
			RequestID:     logger.RequestID(ctx),
			Timestamp:     time.Now().UTC(),
		})
	}
	logger.FromContext(ctx).Debug("search served",
		"query", query,
		"results", len(resp.Results),
		"warnings", len(resp.Warnings),
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) searchFailed(w http.ResponseWriter, r *http.Request, query string, err error) {
	log := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, apperrors.ErrInvalidQuery):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("search timed out", "query", query)
		h.writeError(w, http.StatusGatewayTimeout, "search timed out")
	case errors.Is(err, context.Canceled):
		log.Debug("search abandoned by client", "query", query)
	default:
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "search failed")
	}
}

// Shards handles GET /api/v1/shards.
func (h *Handler) Shards(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"buckets": h.shards.Status()})
}

// Reload handles POST /api/v1/shards/reload?bucket=<id>. Without bucket
// parameters every shard and the manifest are reloaded.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["bucket"]
	for _, id := range ids {
		if !validBucketID(id) {
			h.writeError(w, http.StatusBadRequest, "bucket ids are lowercase hex")
			return
		}
	}
	h.shards.Reload(ids...)
	logger.FromContext(r.Context()).Info("reload requested", "buckets", ids)
	if len(ids) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]any{"reloaded": "all"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reloaded": ids})
}

func validBucketID(id string) bool {
	return id != "" && strings.Trim(id, "0123456789abcdef") == ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
