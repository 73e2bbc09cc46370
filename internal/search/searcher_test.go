package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/storage"
)

type stubEmbedder struct {
	vec  []float32
	fail bool
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("model offline")
	}
	return s.vec, nil
}

type stubStore struct {
	results []storage.ScoredRecord
	gotVec  []float32
	gotTopK int
}

func (s *stubStore) SearchByVector(query []float32, topK int) ([]storage.ScoredRecord, error) {
	s.gotVec = query
	s.gotTopK = topK
	if topK < len(s.results) {
		return s.results[:topK], nil
	}
	return s.results, nil
}

func scoredRecord(id, subject string, ct content.Type, grades []int, score float32) storage.ScoredRecord {
	return storage.ScoredRecord{
		Record: &content.Record{
			ID:          id,
			Title:       "Resource " + id,
			URL:         "https://example.org/education/" + id,
			Subject:     subject,
			ContentType: ct,
			GradeLevel:  grades,
		},
		Score: score,
	}
}

func TestSearchReturnsRankedResults(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	store := &stubStore{results: []storage.ScoredRecord{
		scoredRecord("a", "Maths", content.TypeVideo, []int{3, 4}, 0.9),
		scoredRecord("b", "Science", content.TypeArticle, []int{5}, 0.7),
	}}
	s := New(emb, store)

	results, err := s.Search(context.Background(), Query{Text: "fractions", TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].ID != "a" || results[0].Score != 0.9 {
		t.Errorf("top result = %+v", results[0])
	}
	if store.gotTopK != 5 {
		t.Errorf("store topK = %d, want 5", store.gotTopK)
	}
	if len(store.gotVec) != 2 {
		t.Errorf("query vector = %v", store.gotVec)
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	s := New(&stubEmbedder{vec: []float32{1}}, &stubStore{})
	if _, err := s.Search(context.Background(), Query{Text: "  "}); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestSearchEmbedderErrorPropagates(t *testing.T) {
	s := New(&stubEmbedder{fail: true}, &stubStore{})
	if _, err := s.Search(context.Background(), Query{Text: "fractions"}); err == nil {
		t.Error("expected embedder error")
	}
}

func TestSearchFilters(t *testing.T) {
	store := &stubStore{results: []storage.ScoredRecord{
		scoredRecord("mv", "Maths", content.TypeVideo, []int{3, 4}, 0.9),
		scoredRecord("ma", "Maths", content.TypeArticle, []int{5, 6}, 0.8),
		scoredRecord("sv", "Science", content.TypeVideo, []int{3}, 0.7),
	}}
	s := New(&stubEmbedder{vec: []float32{1}}, store)

	results, err := s.Search(context.Background(), Query{Text: "q", Subject: "maths", TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "mv" || results[1].ID != "ma" {
		t.Errorf("subject filter results = %+v", results)
	}
	// Filtered queries probe a wider candidate set.
	if store.gotTopK != 50 {
		t.Errorf("store topK = %d, want 50", store.gotTopK)
	}

	results, err = s.Search(context.Background(), Query{Text: "q", ContentType: content.TypeVideo, TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "mv" || results[1].ID != "sv" {
		t.Errorf("type filter results = %+v", results)
	}

	grade := 5
	results, err = s.Search(context.Background(), Query{Text: "q", Grade: &grade, TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "ma" {
		t.Errorf("grade filter results = %+v", results)
	}
}

func TestSearchTopKCapsResults(t *testing.T) {
	var recs []storage.ScoredRecord
	for i := 0; i < 8; i++ {
		recs = append(recs, scoredRecord(fmt.Sprintf("r%d", i), "Maths", content.TypeArticle, nil, float32(8-i)/10))
	}
	s := New(&stubEmbedder{vec: []float32{1}}, &stubStore{results: recs})

	results, err := s.Search(context.Background(), Query{Text: "q", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || results[0].ID != "r0" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	store := &stubStore{}
	s := New(&stubEmbedder{vec: []float32{1}}, store)
	if _, err := s.Search(context.Background(), Query{Text: "q"}); err != nil {
		t.Fatal(err)
	}
	if store.gotTopK != 10 {
		t.Errorf("default topK = %d, want 10", store.gotTopK)
	}
}
