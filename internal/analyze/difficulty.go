package analyze

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/edupipe/edupipe/internal/content"
)

var (
	foundationBandPattern = regexp.MustCompile(`f-(\d+)`)
	gradeRangePattern     = regexp.MustCompile(`(\d+)-(\d+)`)
	singleGradePattern    = regexp.MustCompile(`(?:year|grade)s?\s+(\d+)`)
	textRangePattern      = regexp.MustCompile(`(?:year|grade)s?\s+(\d+)[-\s](\d+)`)
)

var foundationWords = []string{"foundation", "prep", "reception", "kindergarten"}

// InferDifficulty classifies a record's difficulty and grade levels.
// The age band is the strongest signal; explicit grade mentions in the
// text come next; text indicators and subject heuristics fill in when
// neither exists. It never fails: with no signal at all the record lands
// on intermediate with a middle-school band.
func InferDifficulty(title, description, subject, ageGroup string) (content.Difficulty, []int) {
	text := strings.ToLower(title + " " + description)

	grades := gradesFromAgeGroup(ageGroup)
	if len(grades) == 0 {
		grades = gradesFromText(text)
	}
	grades = dedupeSorted(grades)

	if len(grades) > 0 {
		sum := 0
		for _, g := range grades {
			sum += g
		}
		avg := float64(sum) / float64(len(grades))
		switch {
		case avg <= 2:
			return content.DifficultyBeginner, grades
		case avg <= 6:
			return content.DifficultyIntermediate, grades
		default:
			return content.DifficultyAdvanced, grades
		}
	}

	difficulty := content.DifficultyIntermediate
	switch {
	case containsAny(text, "basic", "beginner", "easy", "introduction", "start", "simple"):
		difficulty = content.DifficultyBeginner
		grades = []int{3, 4, 5}
	case containsAny(text, "advanced", "complex", "difficult", "challenging", "hard"):
		difficulty = content.DifficultyAdvanced
		grades = []int{9, 10, 11, 12}
	default:
		grades = []int{6, 7, 8}
	}

	if strings.Contains(strings.ToLower(subject), "math") {
		switch {
		case containsAny(text, "calculus", "trigonometry", "quadratic", "polynomial"):
			difficulty = content.DifficultyAdvanced
		case containsAny(text, "algebra", "geometry", "equation", "function"):
			difficulty = content.DifficultyIntermediate
		case containsAny(text, "fraction", "decimal", "arithmetic", "counting"):
			difficulty = content.DifficultyBeginner
		}
	}
	return difficulty, grades
}

// gradesFromAgeGroup expands a bounded band like "Years F-2" or
// "Years 3-4" into its grade list. Foundation year is grade 0.
func gradesFromAgeGroup(ageGroup string) []int {
	lower := strings.ToLower(ageGroup)
	if lower == "" || lower == "all years" {
		return nil
	}

	if strings.Contains(lower, "f-") {
		grades := []int{0}
		if m := foundationBandPattern.FindStringSubmatch(lower); m != nil {
			upper, _ := strconv.Atoi(m[1])
			for g := 1; g <= upper; g++ {
				grades = append(grades, g)
			}
		}
		return grades
	}

	if m := gradeRangePattern.FindStringSubmatch(lower); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		var grades []int
		for g := lo; g <= hi; g++ {
			grades = append(grades, g)
		}
		return grades
	}
	return nil
}

func gradesFromText(text string) []int {
	var grades []int
	for _, w := range foundationWords {
		if strings.Contains(text, w) {
			grades = append(grades, 0)
			break
		}
	}

	for _, m := range textRangePattern.FindAllStringSubmatch(text, -1) {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if 1 <= lo && lo <= hi && hi <= 12 && hi-lo <= 6 {
			for g := lo; g <= hi; g++ {
				grades = append(grades, g)
			}
		}
	}
	for _, m := range singleGradePattern.FindAllStringSubmatch(text, -1) {
		if g, _ := strconv.Atoi(m[1]); 1 <= g && g <= 12 {
			grades = append(grades, g)
		}
	}
	return grades
}

func dedupeSorted(grades []int) []int {
	if len(grades) == 0 {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, g := range grades {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Ints(out)
	return out
}

func containsAny(text string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
