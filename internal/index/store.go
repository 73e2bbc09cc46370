package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoIndex is returned by Load when no index has been written yet.
var ErrNoIndex = errors.New("no resource index")

// ErrCorrupt wraps a load failure on an index file that exists but cannot
// be parsed. Corruption is fatal to a run; the store never overwrites the
// bad file on its own.
var ErrCorrupt = errors.New("resource index corrupt")

// Store loads and saves the resource index. Save must be atomic: a crash
// mid-save leaves the previous index intact.
type Store interface {
	Load() (*ResourceIndex, error)
	Save(idx *ResourceIndex) error
}

// FileStore persists the index as JSON at a fixed path, writing through a
// temp file and renaming over the target.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path the store writes to.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*ResourceIndex, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var idx ResourceIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if idx.Subjects == nil {
		idx.Subjects = make(map[string]*SubjectBucket)
	}
	if err := idx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return &idx, nil
}

func (s *FileStore) Save(idx *ResourceIndex) error {
	if err := idx.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid index: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp index: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	idx *ResourceIndex

	LoadErr error
	SaveErr error
	Saves   int
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (*ResourceIndex, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	if s.idx == nil {
		return nil, ErrNoIndex
	}
	return s.idx, nil
}

func (s *MemStore) Save(idx *ResourceIndex) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.idx = idx
	s.Saves++
	return nil
}
