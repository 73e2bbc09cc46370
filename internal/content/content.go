// Package content defines the domain types shared by the pipeline stages:
// discovered resources, extracted content records, and their enumerations.
package content

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Type classifies a resource by its dominant medium.
type Type string

const (
	TypeArticle     Type = "article"
	TypeVideo       Type = "video"
	TypeAudio       Type = "audio"
	TypeInteractive Type = "interactive"
	TypeQuiz        Type = "quiz"
	TypeWorksheet   Type = "worksheet"
	TypeLesson      Type = "lesson"
	TypeActivity    Type = "activity"
)

// Difficulty is the inferred difficulty band of a record.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Metadata holds the medium-specific extraction payload. Fields are
// flattened into metadata_* columns when mapped to the external search
// schema, which has no nested objects.
type Metadata struct {
	ContentText   string `json:"content_text,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	MediaURL      string `json:"media_url,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
}

// Record is the fully extracted (and, after analysis, enriched)
// representation of one resource. ID matches the originating
// ResourceRecord ID.
type Record struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ContentType     Type       `json:"content_type"`
	Subject         string     `json:"subject"`
	AgeGroup        string     `json:"age_group"`
	Topics          []string   `json:"topics,omitempty"`
	URL             string     `json:"url"`
	Source          string     `json:"source"`
	Author          string     `json:"author,omitempty"`
	DifficultyLevel Difficulty `json:"difficulty_level,omitempty"`
	GradeLevel      []int      `json:"grade_level,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Keywords        []string   `json:"keywords,omitempty"`
	LowContent      bool       `json:"low_content,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Metadata        Metadata   `json:"metadata"`
	Embedding       []float32  `json:"embedding,omitempty"`
}

// Analyzed reports whether the analyzer has already enriched the record.
// DifficultyLevel is always set by analysis, even when only defaults apply.
func (r *Record) Analyzed() bool {
	return r.DifficultyLevel != ""
}

// CombinedText returns the text composite used for keyword extraction and
// embedding: title, description, then body text or transcription.
func (r *Record) CombinedText() string {
	text := r.Title
	if r.Description != "" {
		text += "\n" + r.Description
	}
	if r.Metadata.ContentText != "" {
		text += "\n" + r.Metadata.ContentText
	} else if r.Metadata.Transcription != "" {
		text += "\n" + r.Metadata.Transcription
	}
	return text
}
