// Package api exposes the operator surface: an authenticated admin HTTP
// API for driving pipeline steps and inspecting state, and an MCP server
// for semantic search over the local content store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/pipeline"
	"github.com/edupipe/edupipe/internal/search"
	"github.com/edupipe/edupipe/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner drives pipeline steps.
type Runner interface {
	Execute(ctx context.Context, step pipeline.Step, subjects []string) (storage.Run, error)
	State() pipeline.State
}

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// AdminDeps holds dependencies for the admin HTTP API.
type AdminDeps struct {
	Runner     Runner
	Store      *storage.Store
	IndexStore index.Store
	Searcher   Searcher // optional; if nil, /search returns 503
	Token      string
}

// NewAdminHandler returns the admin HTTP API. All routes except /health
// require the bearer token.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Get("/records", handleListRecords(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Post("/steps/{step}", handleRunStep(deps))
		r.Get("/index/stats", handleIndexStats(deps))
		r.Post("/search", handleSearch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.ContentStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}

		out := map[string]any{
			"state":   deps.Runner.State(),
			"content": stats,
		}
		runs, err := deps.Store.ListRuns(1)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read runs: %v", err)
			return
		}
		if len(runs) > 0 {
			out["last_run"] = runs[0]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleListRecords(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := r.URL.Query().Get("subject")
		if subject == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "subject query parameter is required")
			return
		}

		recs, err := deps.Store.ListBySubject(subject)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list records: %v", err)
			return
		}
		if recs == nil {
			recs = []*content.Record{}
		}
		// The listing carries metadata only, never embedding vectors.
		for _, rec := range recs {
			rec.Embedding = nil
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recs)
	}
}

func handleListRuns(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runs)
	}
}

func handleGetRun(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetRun(id)
		if errors.Is(err, content.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(run)
	}
}

type runStepRequest struct {
	Subjects []string `json:"subjects"`
}

func handleRunStep(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step := pipeline.Step(chi.URLParam(r, "step"))

		var req runStepRequest
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		run, err := deps.Runner.Execute(r.Context(), step, req.Subjects)
		if errors.Is(err, pipeline.ErrBusy) {
			httpError(w, http.StatusConflict, "conflict", "another step is already running")
			return
		}
		if err != nil && run.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		// A run that failed partway is still reported with its summary.
		if err != nil {
			run.Status = storage.RunFailed
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(run)
	}
}

// IndexStats summarizes the on-disk resource index for operators.
type IndexStats struct {
	CreatedAt      string                  `json:"created_at"`
	TotalResources int                     `json:"total_resources"`
	Subjects       map[string]SubjectStats `json:"subjects"`
}

// SubjectStats is the per-subject slice of IndexStats.
type SubjectStats struct {
	Count     int            `json:"count"`
	AgeGroups map[string]int `json:"age_groups"`
}

func handleIndexStats(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := deps.IndexStore.Load()
		if errors.Is(err, index.ErrNoIndex) {
			httpError(w, http.StatusNotFound, "not_found", "no index has been built yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load index: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(indexStats(idx))
	}
}

func indexStats(idx *index.ResourceIndex) IndexStats {
	stats := IndexStats{
		CreatedAt:      idx.CreatedAt.Format(time.RFC3339),
		TotalResources: idx.TotalResources,
		Subjects:       make(map[string]SubjectStats, len(idx.Subjects)),
	}
	for name, bucket := range idx.Subjects {
		groups := make(map[string]int, len(bucket.AgeGroups))
		for ag, agb := range bucket.AgeGroups {
			groups[ag] = agb.Count
		}
		stats.Subjects[name] = SubjectStats{Count: bucket.Count, AgeGroups: groups}
	}
	return stats
}

func handleSearch(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Searcher == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "search is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var q search.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		results, err := deps.Searcher.Search(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if results == nil {
			results = []search.Result{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
