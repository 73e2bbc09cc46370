// Package analyze enriches extracted content records with keywords,
// difficulty and grade levels, and embedding vectors.
package analyze

import (
	"regexp"
	"sort"
	"strings"
)

const maxKeywords = 15

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"by": true, "about": true, "as": true, "of": true, "from": true,
	"this": true, "that": true, "these": true, "those": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "can": true, "could": true, "may": true, "might": true,
	"must": true, "shall": true,
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// ExtractKeywords pulls the most frequent non-trivial words out of the
// title and description. Ties break alphabetically so the result is
// deterministic.
func ExtractKeywords(title, description string) []string {
	text := strings.ToLower(title + " " + description)
	words := wordPattern.FindAllString(text, -1)

	counts := make(map[string]int)
	for _, w := range words {
		if len(w) > 3 && !stopWords[w] {
			counts[w]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	keywords := make([]string, 0, len(counts))
	for w := range counts {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
