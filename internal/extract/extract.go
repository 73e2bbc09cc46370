// Package extract turns an indexed resource into a content record by
// fetching its page and pulling out type-specific content: article text,
// transcripts, instructions, worksheet PDFs.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/fetch"
	"github.com/edupipe/edupipe/internal/index"
)

// iframeSrcContains matches iframes whose src mentions the given marker.
func iframeSrcContains(marker string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "iframe" {
			return false
		}
		return strings.Contains(fetch.Attr(n, "src"), marker)
	}
}

// hasAttr matches elements carrying the attribute regardless of value.
func hasAttr(key string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == key {
				return true
			}
		}
		return false
	}
}

// Fetcher is the slice of the fetcher the extractor needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, kind fetch.Kind) (*fetch.Page, error)
	FetchRaw(ctx context.Context, rawURL string) ([]byte, error)
}

// Extractor builds content records from resource pages.
type Extractor struct {
	fetcher Fetcher
	source  string
	log     *slog.Logger
	now     func() time.Time
}

func New(fetcher Fetcher, source string, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{fetcher: fetcher, source: source, log: log, now: time.Now}
}

// Extract fetches the resource page and produces its content record.
// A page with no usable text under any strategy still yields a record,
// marked low-content, so it can be revisited without re-crawling listings.
func (e *Extractor) Extract(ctx context.Context, rec index.ResourceRecord) (*content.Record, error) {
	page, err := e.fetcher.Fetch(ctx, rec.URL, fetch.KindContent)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rec.URL, err)
	}

	ctype := inferContentType(rec.URL, page)
	now := e.now().UTC()
	out := &content.Record{
		ID:          rec.ID,
		Title:       e.extractTitle(page, rec),
		Description: e.extractDescription(page),
		ContentType: ctype,
		Subject:     rec.Subject,
		AgeGroup:    rec.AgeGroup,
		Topics:      e.extractTopics(page, rec.Subject),
		URL:         rec.URL,
		Source:      e.source,
		Author:      e.extractAuthor(page),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if minutes, ok := extractDuration(page); ok {
		out.DurationMinutes = minutes
	} else {
		out.DurationMinutes = estimateDuration(ctype)
	}

	switch ctype {
	case content.TypeVideo:
		e.extractMedia(page, out, videoPlayerMatcher, videoTranscriptMatcher)
	case content.TypeAudio:
		e.extractMedia(page, out, audioPlayerMatcher, audioTranscriptMatcher)
	case content.TypeInteractive, content.TypeActivity:
		e.extractInteractive(page, out)
	case content.TypeQuiz:
		e.extractQuiz(page, out)
	case content.TypeWorksheet:
		out.Metadata.ContentText = e.extractBodyText(page)
		e.appendWorksheetPDF(ctx, page, out)
	default: // article, lesson
		out.Metadata.ContentText = e.extractBodyText(page)
	}

	out.LowContent = isLowContent(out)
	if out.LowContent {
		e.log.Warn("resource yielded no usable text", "id", rec.ID, "url", rec.URL, "content_type", ctype)
	}
	return out, nil
}

func (e *Extractor) extractTitle(page *fetch.Page, rec index.ResourceRecord) string {
	if t := page.MetaContent("og:title"); t != "" {
		return t
	}
	if t := page.Title(); t != "" {
		return t
	}
	return rec.Title
}

var descriptionMatcher = fetch.AnyOf(
	fetch.ByClass("description"),
	fetch.ByClass("summary"),
	fetch.ByClassPrefix("content-block-article__summary"),
	fetch.ByClass("intro"),
)

func (e *Extractor) extractDescription(page *fetch.Page) string {
	if d := page.MetaContent("description"); d != "" {
		return d
	}
	if d := page.MetaContent("og:description"); d != "" {
		return d
	}
	if n := page.Find(descriptionMatcher); n != nil {
		return fetch.NodeText(n)
	}
	if article := page.Find(fetch.ByTag("article")); article != nil {
		if p := fetch.Within(article, fetch.ByTag("p")); p != nil {
			return fetch.NodeText(p)
		}
	}
	return ""
}

var topicMatcher = fetch.AnyOf(
	fetch.ByClass("tag"),
	fetch.ByClass("topic"),
	fetch.ByClass("category"),
	fetch.ByAttr("data-testid", "tag"),
	fetch.ByAttr("data-testid", "topic"),
)

func (e *Extractor) extractTopics(page *fetch.Page, subject string) []string {
	var topics []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			return
		}
		seen[strings.ToLower(t)] = true
		topics = append(topics, t)
	}

	for _, n := range page.FindAll(topicMatcher) {
		add(fetch.NodeText(n))
	}
	if kw := page.MetaContent("keywords"); kw != "" {
		for _, part := range strings.Split(kw, ",") {
			add(part)
		}
	}
	add(subject)
	return topics
}

var authorMatcher = fetch.AnyOf(
	fetch.ByClass("author"),
	fetch.ByClass("byline"),
	fetch.ByClassPrefix("content-block-article__byline"),
	fetch.ByAttr("data-testid", "author"),
)

func (e *Extractor) extractAuthor(page *fetch.Page) string {
	author := page.MetaContent("author")
	if author == "" {
		if n := page.Find(authorMatcher); n != nil {
			author = strings.TrimSpace(fetch.NodeText(n))
		}
	}
	if len(author) > 3 && strings.EqualFold(author[:3], "by ") {
		author = strings.TrimSpace(author[3:])
	}
	return author
}

var bodyMatcher = fetch.AnyOf(
	fetch.ByTag("article"),
	fetch.ByClassPrefix("content-block-article__content"),
	fetch.ByClassPrefix("article__body"),
	fetch.ByClass("content-main"),
	fetch.ByAttr("id", "content-main"),
	fetch.ByClass("main-content"),
	fetch.ByTag("main"),
)

// extractBodyText walks the body container strategies in priority order.
// Within a container, paragraph text is preferred; the container's full
// text is the fallback when it holds no paragraphs.
func (e *Extractor) extractBodyText(page *fetch.Page) string {
	for _, container := range page.FindAll(bodyMatcher) {
		var parts []string
		for _, p := range fetch.AllWithin(container, fetch.ByTag("p")) {
			if text := fetch.NodeText(p); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
		if text := fetch.NodeText(container); text != "" {
			return text
		}
	}
	return ""
}

var (
	videoPlayerMatcher = fetch.AnyOf(
		fetch.ByTag("video"),
		fetch.ByClass("video-player"),
		fetch.ByClass("media-player"),
		fetch.ByAttr("data-component-name", "VideoPlayer"),
		iframeSrcContains("youtube"),
		iframeSrcContains("vimeo"),
		iframeSrcContains("iview"),
	)
	videoTranscriptMatcher = fetch.AnyOf(
		fetch.ByClass("transcript"),
		fetch.ByClass("video-transcript"),
		fetch.ByClass("closed-captions"),
		fetch.ByAttr("data-testid", "transcript"),
	)
	audioPlayerMatcher = fetch.AnyOf(
		fetch.ByTag("audio"),
		fetch.ByClass("audio-player"),
		fetch.ByClass("podcast-player"),
		fetch.ByAttr("data-component-name", "AudioPlayer"),
	)
	audioTranscriptMatcher = fetch.AnyOf(
		fetch.ByClass("transcript"),
		fetch.ByClass("audio-transcript"),
		fetch.ByAttr("data-testid", "transcript"),
	)
)

// extractMedia captures the player source, thumbnail, and any on-page
// transcript. A missing transcript stays absent; it is never synthesized.
func (e *Extractor) extractMedia(page *fetch.Page, out *content.Record, player, transcript func(*html.Node) bool) {
	if n := page.Find(player); n != nil {
		if src := fetch.Attr(n, "src"); src != "" {
			out.Metadata.MediaURL = src
		} else if inner := fetch.Within(n, fetch.AnyOf(fetch.ByTag("source"), fetch.ByTag("iframe"))); inner != nil {
			out.Metadata.MediaURL = fetch.Attr(inner, "src")
		}
		out.Metadata.ThumbnailURL = fetch.Attr(n, "poster")
	}
	if out.Metadata.ThumbnailURL == "" {
		out.Metadata.ThumbnailURL = page.MetaContent("og:image")
	}
	if n := page.Find(transcript); n != nil {
		out.Metadata.Transcription = fetch.NodeText(n)
	}
}

var instructionMatcher = fetch.AnyOf(
	fetch.ByClass("instructions"),
	fetch.ByClass("how-to-play"),
	fetch.ByClass("guidelines"),
	fetch.ByClass("description"),
)

func (e *Extractor) extractInteractive(page *fetch.Page, out *content.Record) {
	if n := page.Find(fetch.ByTag("iframe")); n != nil {
		out.Metadata.MediaURL = fetch.Attr(n, "src")
	}
	if n := page.Find(instructionMatcher); n != nil {
		out.Metadata.Instructions = fetch.NodeText(n)
	}
}

var quizMatcher = fetch.AnyOf(
	fetch.ByClass("quiz"),
	fetch.ByClass("assessment"),
	hasAttr("data-quiz"),
	fetch.ByAttr("data-component-name", "Quiz"),
)

var quizInstructionMatcher = fetch.AnyOf(
	fetch.ByClass("quiz-instructions"),
	fetch.ByClass("quiz-intro"),
	fetch.ByClass("instructions"),
	fetch.ByClass("description"),
)

func (e *Extractor) extractQuiz(page *fetch.Page, out *content.Record) {
	if quiz := page.Find(quizMatcher); quiz != nil {
		questions := fetch.AllWithin(quiz, fetch.AnyOf(
			fetch.ByClass("question"),
			fetch.ByClass("quiz-question"),
		))
		out.Metadata.QuestionCount = len(questions)
	}
	if n := page.Find(quizInstructionMatcher); n != nil {
		out.Metadata.Instructions = fetch.NodeText(n)
	}
}

// appendWorksheetPDF pulls text out of a linked worksheet PDF when the
// page links one. PDF failures degrade to the page text already gathered.
func (e *Extractor) appendWorksheetPDF(ctx context.Context, page *fetch.Page, out *content.Record) {
	pdfURL := ""
	if strings.HasSuffix(strings.ToLower(out.URL), ".pdf") {
		pdfURL = out.URL
	} else {
		for _, a := range page.FindAll(fetch.ByTag("a")) {
			if href := fetch.Attr(a, "href"); strings.HasSuffix(strings.ToLower(href), ".pdf") {
				pdfURL = href
				break
			}
		}
	}
	if pdfURL == "" {
		return
	}

	data, err := e.fetcher.FetchRaw(ctx, pdfURL)
	if err != nil {
		e.log.Warn("worksheet pdf fetch failed", "id", out.ID, "pdf_url", pdfURL, "error", err)
		return
	}
	text, err := pdfText(data)
	if err != nil {
		e.log.Warn("worksheet pdf unreadable", "id", out.ID, "pdf_url", pdfURL, "error", err)
		return
	}
	if text == "" {
		return
	}
	out.Metadata.MediaURL = pdfURL
	if out.Metadata.ContentText != "" {
		out.Metadata.ContentText += "\n\n" + text
	} else {
		out.Metadata.ContentText = text
	}
}

// isLowContent reports whether the record carries no usable text in any
// of the fields later stages analyze.
func isLowContent(rec *content.Record) bool {
	return strings.TrimSpace(rec.Metadata.ContentText) == "" &&
		strings.TrimSpace(rec.Metadata.Transcription) == "" &&
		strings.TrimSpace(rec.Metadata.Instructions) == "" &&
		strings.TrimSpace(rec.Description) == ""
}
