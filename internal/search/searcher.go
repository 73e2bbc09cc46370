// Package search answers semantic queries against the local content store.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/storage"
)

// QueryEmbedder turns a free-text query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorStore performs similarity search over stored records.
type VectorStore interface {
	SearchByVector(query []float32, topK int) ([]storage.ScoredRecord, error)
}

// Query is a semantic search request with optional filters.
type Query struct {
	Text        string       `json:"text"`
	Subject     string       `json:"subject,omitempty"`
	ContentType content.Type `json:"content_type,omitempty"`
	Grade       *int         `json:"grade,omitempty"`
	TopK        int          `json:"top_k,omitempty"`
}

// Result is one search hit.
type Result struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	URL         string             `json:"url"`
	Subject     string             `json:"subject"`
	ContentType content.Type       `json:"content_type"`
	Difficulty  content.Difficulty `json:"difficulty_level,omitempty"`
	GradeLevel  []int              `json:"grade_level,omitempty"`
	Duration    int                `json:"duration_minutes,omitempty"`
	Score       float32            `json:"score"`
}

// Searcher combines query embedding and vector search.
type Searcher struct {
	embedder QueryEmbedder
	store    VectorStore
}

// New creates a Searcher backed by the given embedder and store.
func New(embedder QueryEmbedder, store VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// Search embeds the query text and returns the top matching resources,
// best first. Filters apply after similarity ranking, so the store is
// probed with a wider candidate set to keep filtered results full.
func (s *Searcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	vec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates := topK
	if q.Subject != "" || q.ContentType != "" || q.Grade != nil {
		candidates = topK * 5
	}
	scored, err := s.store.SearchByVector(vec, candidates)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	results := make([]Result, 0, topK)
	for _, sr := range scored {
		if !matches(sr.Record, q) {
			continue
		}
		results = append(results, toResult(sr))
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func matches(rec *content.Record, q Query) bool {
	if q.Subject != "" && !strings.EqualFold(rec.Subject, q.Subject) {
		return false
	}
	if q.ContentType != "" && rec.ContentType != q.ContentType {
		return false
	}
	if q.Grade != nil {
		found := false
		for _, g := range rec.GradeLevel {
			if g == *q.Grade {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func toResult(sr storage.ScoredRecord) Result {
	rec := sr.Record
	return Result{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		URL:         rec.URL,
		Subject:     rec.Subject,
		ContentType: rec.ContentType,
		Difficulty:  rec.DifficultyLevel,
		GradeLevel:  rec.GradeLevel,
		Duration:    rec.DurationMinutes,
		Score:       sr.Score,
	}
}
