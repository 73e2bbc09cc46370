// Package index builds and persists the resource index: the durable map
// of every discovered resource grouped by subject and age band. The index
// is the pipeline's checkpoint; later stages read it, never rewrite it.
package index

import (
	"fmt"
	"hash/fnv"
	"time"
)

// ResourceRecord is one discovered resource. Records are immutable once
// written; re-discovery keeps the original record rather than replacing it.
type ResourceRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Subject      string    `json:"subject"`
	AgeGroup     string    `json:"age_group"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// ResourceID derives the stable record id from url and subject. The same
// URL can legitimately appear under multiple subjects, so both feed the
// hash.
func ResourceID(url, subject string) string {
	h := fnv.New64a()
	h.Write([]byte(url))
	h.Write([]byte{'\n'})
	h.Write([]byte(subject))
	return fmt.Sprintf("%016x", h.Sum64())
}

// AgeGroupBucket holds the resources discovered for one subject and age
// band. Count always equals len(Resources).
type AgeGroupBucket struct {
	Count     int              `json:"count"`
	Resources []ResourceRecord `json:"resources"`
}

// SubjectBucket holds a subject's age-group buckets plus the deduplicated
// union of their resources.
type SubjectBucket struct {
	Count     int                        `json:"count"`
	AgeGroups map[string]*AgeGroupBucket `json:"age_groups"`
	Resources []ResourceRecord           `json:"resources"`
}

// ResourceIndex is the full durable index.
type ResourceIndex struct {
	CreatedAt      time.Time                 `json:"created_at"`
	TotalResources int                       `json:"total_resources"`
	Subjects       map[string]*SubjectBucket `json:"subjects"`
}

// NewIndex returns an empty index stamped with the current time.
func NewIndex() *ResourceIndex {
	return &ResourceIndex{
		CreatedAt: time.Now().UTC(),
		Subjects:  make(map[string]*SubjectBucket),
	}
}

// Add merges rec into the index. When a record with the same id already
// exists in the target age-group bucket the existing record wins, so
// re-indexing preserves the original discovered_at. Reports whether rec
// was newly added to its age-group bucket.
func (idx *ResourceIndex) Add(rec ResourceRecord) bool {
	sb, ok := idx.Subjects[rec.Subject]
	if !ok {
		sb = &SubjectBucket{AgeGroups: make(map[string]*AgeGroupBucket)}
		idx.Subjects[rec.Subject] = sb
	}
	ab, ok := sb.AgeGroups[rec.AgeGroup]
	if !ok {
		ab = &AgeGroupBucket{}
		sb.AgeGroups[rec.AgeGroup] = ab
	}

	for _, existing := range ab.Resources {
		if existing.ID == rec.ID {
			return false
		}
	}
	ab.Resources = append(ab.Resources, rec)
	ab.Count = len(ab.Resources)

	if !containsID(sb.Resources, rec.ID) {
		sb.Resources = append(sb.Resources, rec)
		sb.Count = len(sb.Resources)
		idx.TotalResources++
	}
	return true
}

// SubjectResources returns the deduplicated resources for one subject,
// or nil if the subject is absent.
func (idx *ResourceIndex) SubjectResources(subject string) []ResourceRecord {
	sb, ok := idx.Subjects[subject]
	if !ok {
		return nil
	}
	return sb.Resources
}

// AllResources returns every resource across subjects, deduplicated by id.
func (idx *ResourceIndex) AllResources() []ResourceRecord {
	seen := make(map[string]bool)
	var out []ResourceRecord
	for _, sb := range idx.Subjects {
		for _, rec := range sb.Resources {
			if !seen[rec.ID] {
				seen[rec.ID] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

// Validate checks the count invariants. A violated invariant means the
// index was produced or edited outside this package.
func (idx *ResourceIndex) Validate() error {
	total := 0
	for subject, sb := range idx.Subjects {
		if sb.Count != len(sb.Resources) {
			return fmt.Errorf("subject %q: count %d != %d resources", subject, sb.Count, len(sb.Resources))
		}
		for name, ab := range sb.AgeGroups {
			if ab.Count != len(ab.Resources) {
				return fmt.Errorf("subject %q age group %q: count %d != %d resources", subject, name, ab.Count, len(ab.Resources))
			}
		}
		total += sb.Count
	}
	if total != idx.TotalResources {
		return fmt.Errorf("total_resources %d != %d summed over subjects", idx.TotalResources, total)
	}
	return nil
}

func containsID(recs []ResourceRecord, id string) bool {
	for _, r := range recs {
		if r.ID == id {
			return true
		}
	}
	return false
}
