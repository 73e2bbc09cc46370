package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/pipeline"
	"github.com/edupipe/edupipe/internal/search"
	"github.com/edupipe/edupipe/internal/storage"
)

const testToken = "test-token"

// --- mocks ---

type mockRunner struct {
	run         storage.Run
	err         error
	state       pipeline.State
	gotStep     pipeline.Step
	gotSubjects []string
}

func (m *mockRunner) Execute(_ context.Context, step pipeline.Step, subjects []string) (storage.Run, error) {
	m.gotStep = step
	m.gotSubjects = subjects
	return m.run, m.err
}

func (m *mockRunner) State() pipeline.State {
	if m.state == "" {
		return pipeline.StateIdle
	}
	return m.state
}

type mockSearcher struct {
	results []search.Result
	err     error
	gotQ    search.Query
}

func (m *mockSearcher) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	m.gotQ = q
	return m.results, m.err
}

// --- helpers ---

type testAPI struct {
	handler  http.Handler
	runner   *mockRunner
	searcher *mockSearcher
	store    *storage.Store
	idxStore *index.MemStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	a := &testAPI{
		runner:   &mockRunner{},
		searcher: &mockSearcher{},
		store:    store,
		idxStore: index.NewMemStore(),
	}
	a.handler = NewAdminHandler(AdminDeps{
		Runner:     a.runner,
		Store:      store,
		IndexStore: a.idxStore,
		Searcher:   a.searcher,
		Token:      testToken,
	})
	return a
}

func (a *testAPI) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func seedIndexStore(t *testing.T, store index.Store) {
	t.Helper()
	idx := index.NewIndex()
	for i := 1; i <= 2; i++ {
		idx.Add(index.ResourceRecord{
			ID:           fmt.Sprintf("res-%d", i),
			Title:        fmt.Sprintf("Resource %d", i),
			URL:          fmt.Sprintf("https://example.org/education/res-%d", i),
			Subject:      "Maths",
			AgeGroup:     "Years F-2",
			DiscoveredAt: time.Now().UTC(),
		})
	}
	if err := store.Save(idx); err != nil {
		t.Fatal(err)
	}
}

// --- tests ---

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t)
	a.runner.state = pipeline.StateExtracting
	if err := a.store.StartRun(storage.Run{ID: "run-1", Step: "extract", StartedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	w := a.request(t, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var out struct {
		State   string        `json:"state"`
		Content storage.Stats `json:"content"`
		LastRun *storage.Run  `json:"last_run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.State != "extracting" {
		t.Errorf("state = %q", out.State)
	}
	if out.LastRun == nil || out.LastRun.ID != "run-1" {
		t.Errorf("last_run = %+v", out.LastRun)
	}
}

func TestRunStep(t *testing.T) {
	a := newTestAPI(t)
	a.runner.run = storage.Run{
		ID:     "run-9",
		Step:   "extract",
		Status: storage.RunCompleted,
		Summary: storage.RunSummary{
			Extracted: 4,
		},
	}

	w := a.request(t, http.MethodPost, "/steps/extract", map[string]any{"subjects": []string{"Maths"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if a.runner.gotStep != pipeline.StepExtract {
		t.Errorf("step = %q", a.runner.gotStep)
	}
	if len(a.runner.gotSubjects) != 1 || a.runner.gotSubjects[0] != "Maths" {
		t.Errorf("subjects = %v", a.runner.gotSubjects)
	}
	var run storage.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.ID != "run-9" || run.Summary.Extracted != 4 {
		t.Errorf("run = %+v", run)
	}
}

func TestRunStepBusy(t *testing.T) {
	a := newTestAPI(t)
	a.runner.err = pipeline.ErrBusy

	w := a.request(t, http.MethodPost, "/steps/upsert", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRunStepUnknown(t *testing.T) {
	a := newTestAPI(t)
	a.runner.err = errors.New(`unknown step "rewind"`)

	w := a.request(t, http.MethodPost, "/steps/rewind", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRunStepFailedRunStillReported(t *testing.T) {
	a := newTestAPI(t)
	a.runner.run = storage.Run{ID: "run-2", Step: "extract"}
	a.runner.err = errors.New("extract: loading index: no index")

	w := a.request(t, http.MethodPost, "/steps/extract", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var run storage.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != storage.RunFailed {
		t.Errorf("Status = %q", run.Status)
	}
}

func TestListAndGetRuns(t *testing.T) {
	a := newTestAPI(t)
	for i := 0; i < 3; i++ {
		run := storage.Run{
			ID:        fmt.Sprintf("run-%d", i),
			Step:      "run",
			StartedAt: time.Date(2026, 1, 10+i, 0, 0, 0, 0, time.UTC),
		}
		if err := a.store.StartRun(run); err != nil {
			t.Fatal(err)
		}
	}

	w := a.request(t, http.MethodGet, "/runs?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var runs []storage.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Errorf("runs = %+v", runs)
	}

	w = a.request(t, http.MethodGet, "/runs/run-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = a.request(t, http.MethodGet, "/runs/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	a := newTestAPI(t)
	now := time.Now().UTC()
	for i, subject := range []string{"Maths", "Maths", "Science"} {
		rec := &content.Record{
			ID:          fmt.Sprintf("rec-%d", i),
			Title:       fmt.Sprintf("Record %d", i),
			Subject:     subject,
			ContentType: content.TypeArticle,
			Embedding:   []float32{0.1, 0.2},
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   now,
		}
		if err := a.store.SaveContentRecord(rec); err != nil {
			t.Fatal(err)
		}
	}

	w := a.request(t, http.MethodGet, "/records?subject=Maths", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var recs []*content.Record
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "rec-0" || recs[1].ID != "rec-1" {
		t.Errorf("records = %+v", recs)
	}
	for _, rec := range recs {
		if len(rec.Embedding) != 0 {
			t.Errorf("record %s carries an embedding in the listing", rec.ID)
		}
	}

	w = a.request(t, http.MethodGet, "/records?subject=History", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("unknown subject body = %q, want empty list", body)
	}

	w = a.request(t, http.MethodGet, "/records", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing subject: status = %d", w.Code)
	}
}

func TestIndexStats(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodGet, "/index/stats", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("empty store: status = %d", w.Code)
	}

	seedIndexStore(t, a.idxStore)
	w = a.request(t, http.MethodGet, "/index/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var stats IndexStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalResources != 2 {
		t.Errorf("TotalResources = %d", stats.TotalResources)
	}
	if stats.Subjects["Maths"].AgeGroups["Years F-2"] != 2 {
		t.Errorf("subjects = %+v", stats.Subjects)
	}
}

func TestSearchEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.searcher.results = []search.Result{
		{ID: "r1", Title: "Fractions", Subject: "Maths", ContentType: content.TypeVideo, Score: 0.91},
	}

	w := a.request(t, http.MethodPost, "/search", search.Query{Text: "fractions", TopK: 3})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if a.searcher.gotQ.Text != "fractions" || a.searcher.gotQ.TopK != 3 {
		t.Errorf("query = %+v", a.searcher.gotQ)
	}
	var results []search.Result
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "r1" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchEndpointErrors(t *testing.T) {
	a := newTestAPI(t)
	a.searcher.err = errors.New("embedding model offline")

	w := a.request(t, http.MethodPost, "/search", search.Query{Text: "fractions"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d", w.Code)
	}

	noSearch := NewAdminHandler(AdminDeps{
		Runner:     a.runner,
		Store:      a.store,
		IndexStore: a.idxStore,
		Token:      testToken,
	})
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(search.Query{Text: "fractions"})
	req := httptest.NewRequest(http.MethodPost, "/search", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w2 := httptest.NewRecorder()
	noSearch.ServeHTTP(w2, req)
	if w2.Code != http.StatusServiceUnavailable {
		t.Errorf("nil searcher: status = %d", w2.Code)
	}
}
