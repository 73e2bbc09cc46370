package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/fetch"
)

type stubFetcher struct {
	pages map[string]string
	fail  map[string]error
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string, _ fetch.Kind) (*fetch.Page, error) {
	s.calls = append(s.calls, rawURL)
	if err, ok := s.fail[rawURL]; ok {
		return nil, err
	}
	raw, ok := s.pages[rawURL]
	if !ok {
		raw = "<html><body></body></html>"
	}
	return fetch.ParsePage(rawURL, raw)
}

const mathsURL = "https://example.org/education/subjects-and-topics/maths"

func testCatalog() config.Catalog {
	return config.Catalog{
		Source:  "Test Source",
		BaseURL: "https://example.org/education",
		Subjects: []config.Subject{
			{Name: "Maths", URL: mathsURL},
		},
		AgeGroupFallback: []config.AgeGroup{
			{Name: "Years 3-4", Fragment: "years-3-4"},
		},
	}
}

func subjectPage(tabs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><nav class="years">`)
	for _, tab := range tabs {
		sb.WriteString(tab)
	}
	sb.WriteString(`</nav></body></html>`)
	return sb.String()
}

func listingPage(cards ...string) string {
	return "<html><body>" + strings.Join(cards, "") + "</body></html>"
}

func card(slug, title string) string {
	return fmt.Sprintf(`<div class="GridCard_wrapper__x"><a href="/education/%s"><h3>%s</h3></a></div>`, slug, title)
}

func newTestBuilder(f *stubFetcher, store Store, limits Limits) *Builder {
	return NewBuilder(f, store, testCatalog(), limits, slog.New(slog.DiscardHandler))
}

func TestBuildIndexesSubject(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		mathsURL: subjectPage(
			`<a href="#years-f-2">Years F-2</a>`,
			`<a href="#all-years">All years</a>`,
		),
		mathsURL + "?years=years-f-2": listingPage(
			card("res-one", "Resource One"),
			card("res-two", "Resource Two"),
		),
	}}
	store := NewMemStore()
	b := newTestBuilder(f, store, Limits{MaxPagesPerSubject: 3})

	idx, report, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Added != 2 {
		t.Errorf("Added = %d, want 2", report.Added)
	}
	if got := idx.Subjects["Maths"].AgeGroups["Years F-2"].Count; got != 2 {
		t.Errorf("Years F-2 count = %d, want 2", got)
	}
	if _, ok := idx.Subjects["Maths"].AgeGroups["All years"]; ok {
		t.Error("unbounded all-years band must be excluded")
	}
	if store.Saves != 1 {
		t.Errorf("Saves = %d, want 1 checkpoint per subject", store.Saves)
	}
	for _, u := range f.calls {
		if strings.Contains(u, "all-years") {
			t.Errorf("fetched all-years listing %s", u)
		}
	}
	if err := idx.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBareLinkFallbackSkipsPageChrome(t *testing.T) {
	// No recognizable cards on the listing page, so every document link
	// is considered except those inside nav, header, or footer.
	f := &stubFetcher{pages: map[string]string{
		mathsURL: subjectPage(`<a href="#years-f-2">Years F-2</a>`),
		mathsURL + "?years=years-f-2": `<html><body>
			<header><a href="/education/promo">Promo banner</a></header>
			<nav><a href="/education/subjects-and-topics/science">Science</a></nav>
			<p><a href="/education/res-one">Resource One</a></p>
			<footer><a href="/education/about">About</a></footer>
		</body></html>`,
	}}
	b := newTestBuilder(f, NewMemStore(), Limits{})

	idx, _, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	bucket := idx.Subjects["Maths"].AgeGroups["Years F-2"]
	if bucket.Count != 1 {
		t.Fatalf("count = %d, want 1 (chrome links excluded): %+v", bucket.Count, bucket.Resources)
	}
	if got := bucket.Resources[0].URL; !strings.HasSuffix(got, "/education/res-one") {
		t.Errorf("indexed URL = %q", got)
	}
}

func TestIdempotentReindex(t *testing.T) {
	pages := map[string]string{
		mathsURL:                      subjectPage(`<a href="#years-f-2">Years F-2</a>`),
		mathsURL + "?years=years-f-2": listingPage(card("res-one", "Resource One")),
	}
	store := NewMemStore()

	first := newTestBuilder(&stubFetcher{pages: pages}, store, Limits{})
	first.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	idx1, _, err := first.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := idx1.Subjects["Maths"].Resources[0].DiscoveredAt

	second := newTestBuilder(&stubFetcher{pages: pages}, store, Limits{})
	second.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	idx2, report, err := second.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if report.Added != 0 || report.Existing != 1 {
		t.Errorf("re-index report added=%d existing=%d, want 0/1", report.Added, report.Existing)
	}
	if idx2.TotalResources != idx1.TotalResources {
		t.Errorf("TotalResources changed: %d -> %d", idx1.TotalResources, idx2.TotalResources)
	}
	got := idx2.Subjects["Maths"].Resources[0]
	if !got.DiscoveredAt.Equal(want) {
		t.Errorf("discovered_at = %v, want original %v", got.DiscoveredAt, want)
	}
}

func TestPaginationStopsOnNoNewLinks(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		mathsURL:                             subjectPage(`<a href="#years-f-2">Years F-2</a>`),
		mathsURL + "?years=years-f-2":        listingPage(card("res-one", "One")),
		mathsURL + "?page=2&years=years-f-2": listingPage(card("res-one", "One")),
		mathsURL + "?page=3&years=years-f-2": listingPage(card("res-nine", "Never reached")),
	}}
	b := newTestBuilder(f, NewMemStore(), Limits{MaxPagesPerSubject: 10})

	idx, _, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx.TotalResources != 1 {
		t.Errorf("TotalResources = %d, want 1", idx.TotalResources)
	}
	for _, u := range f.calls {
		if strings.Contains(u, "page=3") {
			t.Error("pagination continued past a page with zero new links")
		}
	}
}

func TestMaxPagesPerSubjectRespected(t *testing.T) {
	pages := map[string]string{
		mathsURL: subjectPage(`<a href="#years-f-2">Years F-2</a>`),
	}
	// Every page yields a fresh resource, so only the page cap stops the walk.
	pages[mathsURL+"?years=years-f-2"] = listingPage(card("res-1", "R1"))
	for p := 2; p <= 6; p++ {
		pages[fmt.Sprintf("%s?page=%d&years=years-f-2", mathsURL, p)] = listingPage(card(fmt.Sprintf("res-%d", p), "R"))
	}
	f := &stubFetcher{pages: pages}
	b := newTestBuilder(f, NewMemStore(), Limits{MaxPagesPerSubject: 2})

	idx, _, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx.TotalResources != 2 {
		t.Errorf("TotalResources = %d, want 2", idx.TotalResources)
	}
}

func TestPerSubjectLimit(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		mathsURL: subjectPage(`<a href="#years-f-2">Years F-2</a>`),
		mathsURL + "?years=years-f-2": listingPage(
			card("res-one", "One"),
			card("res-two", "Two"),
			card("res-three", "Three"),
		),
	}}
	b := newTestBuilder(f, NewMemStore(), Limits{MaxPerSubject: 2})

	idx, _, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.Subjects["Maths"].Count; got != 2 {
		t.Errorf("subject count = %d, want 2", got)
	}
}

func TestBucketFailureDoesNotAbortRun(t *testing.T) {
	f := &stubFetcher{
		pages: map[string]string{
			mathsURL: subjectPage(
				`<a href="#years-f-2">Years F-2</a>`,
				`<a href="#years-3-4">Years 3-4</a>`,
			),
			mathsURL + "?years=years-3-4": listingPage(card("res-two", "Two")),
		},
		fail: map[string]error{
			mathsURL + "?years=years-f-2": fmt.Errorf("listing unreachable"),
		},
	}
	store := NewMemStore()
	b := newTestBuilder(f, store, Limits{})

	idx, report, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(report.Failures))
	}
	if report.Failures[0].AgeGroup != "Years F-2" {
		t.Errorf("failed bucket = %q", report.Failures[0].AgeGroup)
	}
	if got := idx.Subjects["Maths"].AgeGroups["Years 3-4"].Count; got != 1 {
		t.Errorf("surviving bucket count = %d, want 1", got)
	}
	if store.Saves != 1 {
		t.Errorf("Saves = %d, want 1", store.Saves)
	}
}

func TestFallbackBandsWhenDiscoveryFails(t *testing.T) {
	f := &stubFetcher{
		pages: map[string]string{
			mathsURL + "?years=years-3-4": listingPage(card("res-one", "One")),
		},
		fail: map[string]error{
			mathsURL: fmt.Errorf("subject page unreachable"),
		},
	}
	b := newTestBuilder(f, NewMemStore(), Limits{})

	idx, _, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.Subjects["Maths"].AgeGroups["Years 3-4"].Count; got != 1 {
		t.Errorf("fallback band count = %d, want 1", got)
	}
}

func TestCorruptIndexAbortsRun(t *testing.T) {
	store := NewMemStore()
	store.LoadErr = ErrCorrupt
	b := newTestBuilder(&stubFetcher{}, store, Limits{})

	if _, _, err := b.Build(context.Background(), nil); err == nil {
		t.Error("expected corrupt index to abort the run")
	}
}

func TestSubjectFilter(t *testing.T) {
	catalog := testCatalog()
	catalog.Subjects = append(catalog.Subjects, config.Subject{
		Name: "Science",
		URL:  "https://example.org/education/subjects-and-topics/science",
	})
	f := &stubFetcher{pages: map[string]string{
		mathsURL:                      subjectPage(`<a href="#years-f-2">Years F-2</a>`),
		mathsURL + "?years=years-f-2": listingPage(card("res-one", "One")),
	}}
	b := NewBuilder(f, NewMemStore(), catalog, Limits{}, slog.New(slog.DiscardHandler))

	idx, _, err := b.Build(context.Background(), []string{"maths"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Subjects["Science"]; ok {
		t.Error("filtered-out subject was indexed")
	}
	for _, u := range f.calls {
		if strings.Contains(u, "science") {
			t.Errorf("fetched filtered-out subject URL %s", u)
		}
	}
}
