package searchstore

import (
	"time"

	"github.com/edupipe/edupipe/internal/content"
)

// document is the external search index's flat schema. The index has no
// nested objects, so metadata fields flatten into metadata_* columns.
// Field names are a compatibility surface shared with the live index;
// changing them requires a schema migration.
type document struct {
	Action         string    `json:"@search.action"`
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	PageContent    string    `json:"page_content"`
	Description    string    `json:"description,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Topics         []string  `json:"topics,omitempty"`
	URL            string    `json:"url,omitempty"`
	Source         string    `json:"source,omitempty"`
	Difficulty     string    `json:"difficulty_level,omitempty"`
	GradeLevel     []int     `json:"grade_level,omitempty"`
	Duration       int       `json:"duration_minutes,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	CreatedAt      string    `json:"created_at,omitempty"`
	UpdatedAt      string    `json:"updated_at,omitempty"`
	ContentText    string    `json:"metadata_content_text,omitempty"`
	Transcription  string    `json:"metadata_transcription,omitempty"`
	ThumbnailURL   string    `json:"metadata_thumbnail_url,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	SearchableOnly bool      `json:"searchable_only,omitempty"`
}

// mapRecord projects a content record onto the external schema. A record
// with a null embedding is still uploaded, flagged keyword-searchable
// only.
func mapRecord(rec *content.Record) document {
	doc := document{
		Action:        "upload",
		ID:            rec.ID,
		Title:         rec.Title,
		PageContent:   rec.CombinedText(),
		Description:   rec.Description,
		ContentType:   string(rec.ContentType),
		Subject:       rec.Subject,
		Topics:        rec.Topics,
		URL:           rec.URL,
		Source:        rec.Source,
		Difficulty:    string(rec.DifficultyLevel),
		GradeLevel:    rec.GradeLevel,
		Duration:      rec.DurationMinutes,
		Keywords:      rec.Keywords,
		ContentText:   rec.Metadata.ContentText,
		Transcription: rec.Metadata.Transcription,
		ThumbnailURL:  rec.Metadata.ThumbnailURL,
		Embedding:     rec.Embedding,
	}
	if doc.Title == "" {
		doc.Title = "Untitled"
	}
	if !rec.CreatedAt.IsZero() {
		doc.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		doc.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if len(rec.Embedding) == 0 {
		doc.SearchableOnly = true
	}
	return doc
}
