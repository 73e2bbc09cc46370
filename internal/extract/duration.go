package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/fetch"
)

var durationMatcher = fetch.AnyOf(
	fetch.ByClass("duration"),
	fetch.ByClass("video-duration"),
	fetch.ByClass("audio-duration"),
	fetch.ByAttr("data-testid", "duration"),
)

// extractDuration reads an on-page duration marker if the page carries one.
func extractDuration(page *fetch.Page) (int, bool) {
	n := page.Find(durationMatcher)
	if n == nil {
		return 0, false
	}
	return parseDurationText(fetch.NodeText(n))
}

var (
	minutesPattern = regexp.MustCompile(`(\d+)\s*(?:min|m)`)
	secondsPattern = regexp.MustCompile(`(\d+)\s*(?:sec|s)`)
)

// parseDurationText parses "MM:SS", "HH:MM:SS", and "X min Y sec" forms
// into whole minutes, rounding up at 30 seconds.
func parseDurationText(text string) (int, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0, false
	}

	if strings.Contains(text, ":") {
		parts := strings.Split(text, ":")
		nums := make([]int, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return 0, false
			}
			nums = append(nums, v)
		}
		switch len(nums) {
		case 2:
			return nums[0] + roundSeconds(nums[1]), true
		case 3:
			return nums[0]*60 + nums[1] + roundSeconds(nums[2]), true
		}
		return 0, false
	}

	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		minutes, _ := strconv.Atoi(m[1])
		if s := secondsPattern.FindStringSubmatch(text); s != nil {
			seconds, _ := strconv.Atoi(s[1])
			return minutes + roundSeconds(seconds), true
		}
		return minutes, true
	}
	if s := secondsPattern.FindStringSubmatch(text); s != nil {
		// Any nonzero duration counts as at least a minute.
		if seconds, _ := strconv.Atoi(s[1]); seconds > 0 {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func roundSeconds(seconds int) int {
	if seconds >= 30 {
		return 1
	}
	return 0
}

// estimateDuration supplies a typical engagement time when the page
// exposes no duration marker.
func estimateDuration(ctype content.Type) int {
	switch ctype {
	case content.TypeVideo:
		return 10
	case content.TypeAudio:
		return 15
	case content.TypeInteractive:
		return 20
	case content.TypeQuiz:
		return 10
	case content.TypeWorksheet:
		return 30
	case content.TypeLesson:
		return 45
	case content.TypeActivity:
		return 30
	default:
		return 15
	}
}
