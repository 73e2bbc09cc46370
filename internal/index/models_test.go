package index

import (
	"testing"
	"time"
)

func rec(url, subject, ageGroup string) ResourceRecord {
	return ResourceRecord{
		ID:           ResourceID(url, subject),
		Title:        "t",
		URL:          url,
		Subject:      subject,
		AgeGroup:     ageGroup,
		DiscoveredAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestResourceIDStable(t *testing.T) {
	a := ResourceID("https://example.org/education/x", "Maths")
	b := ResourceID("https://example.org/education/x", "Maths")
	if a != b {
		t.Errorf("same inputs gave %q and %q", a, b)
	}
	if ResourceID("https://example.org/education/x", "Science") == a {
		t.Error("different subjects must give different ids")
	}
	if len(a) != 16 {
		t.Errorf("id %q, want 16 hex chars", a)
	}
}

func TestAddMaintainsCounts(t *testing.T) {
	idx := NewIndex()
	idx.Add(rec("https://example.org/education/a", "Maths", "Years F-2"))
	idx.Add(rec("https://example.org/education/b", "Maths", "Years F-2"))
	idx.Add(rec("https://example.org/education/c", "Maths", "Years 3-4"))
	idx.Add(rec("https://example.org/education/a", "Science", "Years F-2"))

	if idx.TotalResources != 4 {
		t.Errorf("TotalResources = %d, want 4", idx.TotalResources)
	}
	if got := idx.Subjects["Maths"].Count; got != 3 {
		t.Errorf("Maths count = %d, want 3", got)
	}
	if got := idx.Subjects["Maths"].AgeGroups["Years F-2"].Count; got != 2 {
		t.Errorf("Maths/F-2 count = %d, want 2", got)
	}
	if err := idx.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAddDuplicateKeepsOriginal(t *testing.T) {
	idx := NewIndex()
	original := rec("https://example.org/education/a", "Maths", "Years F-2")
	if !idx.Add(original) {
		t.Fatal("first Add returned false")
	}

	later := original
	later.DiscoveredAt = original.DiscoveredAt.Add(48 * time.Hour)
	later.Title = "renamed"
	if idx.Add(later) {
		t.Error("duplicate Add returned true")
	}

	got := idx.Subjects["Maths"].AgeGroups["Years F-2"].Resources[0]
	if !got.DiscoveredAt.Equal(original.DiscoveredAt) {
		t.Errorf("discovered_at = %v, want original %v", got.DiscoveredAt, original.DiscoveredAt)
	}
	if got.Title != "t" {
		t.Errorf("title = %q, want original", got.Title)
	}
	if idx.TotalResources != 1 {
		t.Errorf("TotalResources = %d, want 1", idx.TotalResources)
	}
}

func TestSameURLAcrossAgeGroupsCountedOncePerSubject(t *testing.T) {
	idx := NewIndex()
	idx.Add(rec("https://example.org/education/a", "Maths", "Years F-2"))
	idx.Add(rec("https://example.org/education/a", "Maths", "Years 3-4"))

	if got := idx.Subjects["Maths"].Count; got != 1 {
		t.Errorf("subject count = %d, want 1", got)
	}
	if got := idx.Subjects["Maths"].AgeGroups["Years 3-4"].Count; got != 1 {
		t.Errorf("age group count = %d, want 1", got)
	}
	if idx.TotalResources != 1 {
		t.Errorf("TotalResources = %d, want 1", idx.TotalResources)
	}
}

func TestValidateDetectsBadCounts(t *testing.T) {
	idx := NewIndex()
	idx.Add(rec("https://example.org/education/a", "Maths", "Years F-2"))
	idx.Subjects["Maths"].Count = 7
	if err := idx.Validate(); err == nil {
		t.Error("expected validation error for bad subject count")
	}
}

func TestAllResourcesDeduplicatesAcrossSubjects(t *testing.T) {
	idx := NewIndex()
	idx.Add(rec("https://example.org/education/a", "Maths", "Years F-2"))
	idx.Add(rec("https://example.org/education/a", "Science", "Years F-2"))
	idx.Add(rec("https://example.org/education/b", "Science", "Years F-2"))

	// Ids differ per subject, so all three survive.
	if got := len(idx.AllResources()); got != 3 {
		t.Errorf("AllResources = %d, want 3", got)
	}
}
