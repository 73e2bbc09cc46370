package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/fetch"
)

// PageFetcher is the slice of the fetcher the builder needs.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, kind fetch.Kind) (*fetch.Page, error)
}

// Limits bounds how far the builder walks each subject.
type Limits struct {
	MaxPagesPerSubject int
	MaxPerSubject      int
}

// BucketFailure records a subject/age-group enumeration that failed partway.
// The bucket keeps whatever was gathered before the failure.
type BucketFailure struct {
	Subject  string
	AgeGroup string
	Err      error
}

// Report summarizes one Build call.
type Report struct {
	Added    int
	Existing int
	Failures []BucketFailure
}

// Builder walks the catalog's subjects and age groups, enumerates resource
// links from paginated listing pages, and merges them into the persisted
// index. It is the index's single writer.
type Builder struct {
	fetcher PageFetcher
	store   Store
	catalog config.Catalog
	limits  Limits
	log     *slog.Logger
	now     func() time.Time
}

func NewBuilder(fetcher PageFetcher, store Store, catalog config.Catalog, limits Limits, log *slog.Logger) *Builder {
	if limits.MaxPagesPerSubject <= 0 {
		limits.MaxPagesPerSubject = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		fetcher: fetcher,
		store:   store,
		catalog: catalog,
		limits:  limits,
		log:     log,
		now:     time.Now,
	}
}

// Build enumerates resources for the given subjects (all catalog subjects
// when the filter is empty) and merges them into the stored index. An
// existing index is augmented, never discarded; existing records keep
// their original discovered_at. The index is checkpointed after each
// subject. Only a corrupt index or a failed checkpoint aborts the run.
func (b *Builder) Build(ctx context.Context, onlySubjects []string) (*ResourceIndex, *Report, error) {
	idx, err := b.store.Load()
	switch {
	case errors.Is(err, ErrNoIndex):
		idx = NewIndex()
	case err != nil:
		return nil, nil, err
	}

	report := &Report{}
	for _, subject := range b.selectSubjects(onlySubjects) {
		if err := ctx.Err(); err != nil {
			return idx, report, err
		}
		b.buildSubject(ctx, idx, subject, report)
		if err := b.store.Save(idx); err != nil {
			return idx, report, fmt.Errorf("checkpointing index after %s: %w", subject.Name, err)
		}
		b.log.Info("subject indexed",
			"subject", subject.Name,
			"total", idx.Subjects[subject.Name].subjectCount())
	}
	return idx, report, nil
}

func (sb *SubjectBucket) subjectCount() int {
	if sb == nil {
		return 0
	}
	return sb.Count
}

func (b *Builder) selectSubjects(only []string) []config.Subject {
	if len(only) == 0 {
		return b.catalog.Subjects
	}
	want := make(map[string]bool, len(only))
	for _, s := range only {
		want[strings.ToLower(s)] = true
	}
	var out []config.Subject
	for _, s := range b.catalog.Subjects {
		if want[strings.ToLower(s.Name)] {
			out = append(out, s)
		}
	}
	return out
}

func (b *Builder) buildSubject(ctx context.Context, idx *ResourceIndex, subject config.Subject, report *Report) {
	groups, err := b.discoverAgeGroups(ctx, subject.URL)
	if err != nil {
		b.log.Warn("age group discovery failed, using fallback bands",
			"subject", subject.Name, "error", err)
		groups = b.catalog.AgeGroupFallback
	}
	if len(groups) == 0 {
		groups = b.catalog.AgeGroupFallback
	}

	subjectTotal := 0
	if sb, ok := idx.Subjects[subject.Name]; ok {
		subjectTotal = sb.Count
	}

	for _, group := range groups {
		if b.limits.MaxPerSubject > 0 && subjectTotal >= b.limits.MaxPerSubject {
			b.log.Info("per-subject limit reached", "subject", subject.Name, "limit", b.limits.MaxPerSubject)
			return
		}
		added, err := b.buildAgeGroup(ctx, idx, subject, group, &subjectTotal, report)
		if err != nil {
			// The bucket keeps whatever was gathered before the failure.
			b.log.Error("age group enumeration failed",
				"subject", subject.Name, "age_group", group.Name, "error", err)
			report.Failures = append(report.Failures, BucketFailure{
				Subject:  subject.Name,
				AgeGroup: group.Name,
				Err:      err,
			})
			continue
		}
		b.log.Info("age group indexed",
			"subject", subject.Name, "age_group", group.Name, "added", added)
	}
}

func (b *Builder) buildAgeGroup(ctx context.Context, idx *ResourceIndex, subject config.Subject, group config.AgeGroup, subjectTotal *int, report *Report) (int, error) {
	added := 0
	for page := 1; page <= b.limits.MaxPagesPerSubject; page++ {
		listing, err := b.fetcher.Fetch(ctx, listingURL(subject.URL, group.Fragment, page), fetch.KindListing)
		if err != nil {
			return added, err
		}

		links := b.extractListingLinks(listing, subject.URL)
		newOnPage := 0
		for _, link := range links {
			if b.limits.MaxPerSubject > 0 && *subjectTotal >= b.limits.MaxPerSubject {
				return added + newOnPage, nil
			}
			rec := ResourceRecord{
				ID:           ResourceID(link.url, subject.Name),
				Title:        link.title,
				URL:          link.url,
				Subject:      subject.Name,
				AgeGroup:     group.Name,
				DiscoveredAt: b.now().UTC(),
			}
			if idx.Add(rec) {
				newOnPage++
				report.Added++
				*subjectTotal = idx.Subjects[subject.Name].subjectCount()
			} else {
				report.Existing++
			}
		}
		added += newOnPage

		if newOnPage == 0 {
			break
		}
		if b.limits.MaxPerSubject > 0 && *subjectTotal >= b.limits.MaxPerSubject {
			break
		}
	}
	return added, nil
}

// listingURL builds the paginated listing URL for a subject's age band.
// Page 1 is the bare band URL; later pages carry a page query parameter.
func listingURL(subjectURL, fragment string, page int) string {
	u := subjectURL
	q := url.Values{}
	if fragment != "" {
		q.Set("years", fragment)
	}
	if page > 1 {
		q.Set("page", fmt.Sprint(page))
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

var ageGroupPattern = regexp.MustCompile(`(?i)^(foundation|year)|f-\d|\d+-\d+`)

// discoverAgeGroups reads the subject page's year-band tabs. Unbounded
// "all years" tabs are dropped; downstream grade targeting needs a
// concrete band.
func (b *Builder) discoverAgeGroups(ctx context.Context, subjectURL string) ([]config.AgeGroup, error) {
	page, err := b.fetcher.Fetch(ctx, subjectURL, fetch.KindListing)
	if err != nil {
		return nil, err
	}

	var groups []config.AgeGroup
	seen := make(map[string]bool)
	for _, a := range page.FindAll(fetch.ByTag("a")) {
		href := fetch.Attr(a, "href")
		if !strings.Contains(href, "#") {
			continue
		}
		fragment := href[strings.LastIndex(href, "#")+1:]
		name := strings.TrimSpace(fetch.NodeText(a))
		if name == "" || fragment == "" || seen[fragment] {
			continue
		}
		if !ageGroupPattern.MatchString(name) {
			continue
		}
		if strings.EqualFold(name, "all years") || strings.Contains(strings.ToLower(fragment), "all-years") {
			continue
		}
		seen[fragment] = true
		groups = append(groups, config.AgeGroup{Name: name, Fragment: fragment})
	}
	return groups, nil
}

type listingLink struct {
	url   string
	title string
}

var cardMatcher = fetch.AnyOf(
	fetch.ByClassPrefix("GridCard"),
	fetch.ByClassPrefix("Card"),
	fetch.ByClassPrefix("ContentCard"),
	fetch.ByAttr("data-component", "Card"),
)

// pageChromeMatcher matches the navigation, header, and footer containers
// whose links are site chrome, not resources.
var pageChromeMatcher = fetch.AnyOf(
	fetch.ByTag("nav"),
	fetch.ByTag("header"),
	fetch.ByTag("footer"),
)

// extractListingLinks pulls resource links from a listing page. Card
// containers are preferred since they carry the resource title in a
// heading; when the page exposes no recognizable cards, every education
// link outside the page chrome is considered.
func (b *Builder) extractListingLinks(page *fetch.Page, subjectURL string) []listingLink {
	var out []listingLink
	seen := make(map[string]bool)

	add := func(href, title string) {
		resolved, ok := b.resolveResourceURL(href, subjectURL)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		out = append(out, listingLink{url: resolved, title: title})
	}

	cards := page.FindAll(cardMatcher)
	for _, card := range cards {
		a := fetch.Within(card, fetch.ByTag("a"))
		if a == nil {
			continue
		}
		title := ""
		if h := fetch.Within(card, fetch.AnyOf(
			fetch.ByTag("h1"), fetch.ByTag("h2"), fetch.ByTag("h3"),
			fetch.ByTag("h4"), fetch.ByTag("h5"), fetch.ByTag("h6"),
		)); h != nil {
			title = strings.TrimSpace(fetch.NodeText(h))
		}
		if title == "" {
			title = strings.TrimSpace(fetch.NodeText(a))
		}
		add(fetch.Attr(a, "href"), title)
	}
	if len(out) > 0 {
		return out
	}

	for _, a := range page.FindAll(fetch.ByTag("a")) {
		if fetch.HasAncestor(a, 10, pageChromeMatcher) {
			continue
		}
		add(fetch.Attr(a, "href"), strings.TrimSpace(fetch.NodeText(a)))
	}
	return out
}

// resolveResourceURL filters and normalizes a candidate link. Only
// education content links on the source host qualify; tab-fragment links
// and the subject page itself do not.
func (b *Builder) resolveResourceURL(href, subjectURL string) (string, bool) {
	if href == "" || strings.Contains(href, "#all-years") {
		return "", false
	}
	if strings.HasPrefix(href, "/") {
		href = strings.TrimSuffix(b.catalog.BaseURL, "/education") + href
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Fragment != "" {
		// Fragment links are in-page tabs, not resources.
		return "", false
	}
	if !strings.Contains(u.Path, "/education/") {
		return "", false
	}
	if base, err := url.Parse(b.catalog.BaseURL); err == nil && base.Host != "" && u.Host != base.Host {
		return "", false
	}
	resolved := u.String()
	if resolved == subjectURL {
		return "", false
	}
	return resolved, true
}

var _ PageFetcher = (*fetch.Fetcher)(nil)
