package extract

import (
	"strings"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/fetch"
)

// urlTypeMarkers map URL path fragments to content types, checked in
// order. URL evidence wins over page markers since it reflects the
// source site's own categorization.
var urlTypeMarkers = []struct {
	markers []string
	ctype   content.Type
}{
	{[]string{"/video/", "/watch/", ".mp4", "/iview/"}, content.TypeVideo},
	{[]string{"/audio/", "/podcast/", ".mp3", "/radio/"}, content.TypeAudio},
	{[]string{"/quiz/", "/test/", "/assessment/"}, content.TypeQuiz},
	{[]string{"/worksheet/", "/exercise/", "/printable/", ".pdf"}, content.TypeWorksheet},
	{[]string{"/interactive/", "/game/", "/simulation/"}, content.TypeInteractive},
	{[]string{"/lesson/", "/class/", "/course/"}, content.TypeLesson},
	{[]string{"/activity/", "/project/", "/lab/"}, content.TypeActivity},
}

// inferContentType determines the content type from the resource URL,
// falling back to page structure, defaulting to article.
func inferContentType(rawURL string, page *fetch.Page) content.Type {
	lower := strings.ToLower(rawURL)
	for _, entry := range urlTypeMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(lower, marker) {
				return entry.ctype
			}
		}
	}

	if page == nil {
		return content.TypeArticle
	}
	switch {
	case page.Find(videoPlayerMatcher) != nil:
		return content.TypeVideo
	case page.Find(audioPlayerMatcher) != nil:
		return content.TypeAudio
	case page.Find(quizMatcher) != nil:
		return content.TypeQuiz
	case page.Find(interactiveMarkerMatcher) != nil:
		return content.TypeInteractive
	}
	return content.TypeArticle
}

var interactiveMarkerMatcher = fetch.AnyOf(
	iframeSrcContains("interactive"),
	fetch.ByTag("canvas"),
	fetch.ByClass("interactive"),
	fetch.ByAttr("data-component-name", "Interactive"),
)
