package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"flowci/pkg/utils"

	"github.com/zeebo/blake3"
)

// Store is a keyed, content-addressed cache of path sets shared across
// concurrent job runs. Writes to a given key are serialized under a per-key
// lock; an entry becomes visible atomically via a directory rename, so a
// restore sees either the old entry in full or the new one in full.
// Eviction/retention is up to the surrounding tooling.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Entry describes one saved cache generation
type Entry struct {
	Key     string    `json:"key"`
	Paths   []string  `json:"paths"`   // the globs the entry was saved from
	Files   int       `json:"files"`   // number of files stored
	Digest  string    `json:"digest"`  // blake3 over the stored content
	SavedAt time.Time `json:"savedAt"`
}

// NewStore creates a cache store rooted at dir
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// entryDir hashes the key so arbitrary key strings stay filesystem-safe
func (s *Store) entryDir(key string) string {
	return filepath.Join(s.dir, "entries", utils.HashString(key))
}

// Save stores the files matched by paths (globs relative to root) under key,
// fully replacing any prior entry for that key.
func (s *Store) Save(key, root string, paths []string) (*Entry, error) {
	matched, err := expandGlobs(root, paths)
	if err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Join(s.dir, "entries"), 0755); err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}
	tmp, err := os.MkdirTemp(s.dir, "save-*")
	if err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}
	defer os.RemoveAll(tmp) // no-op after a successful rename

	dataDir := filepath.Join(tmp, "data")
	files := 0
	h := blake3.New()
	sort.Strings(matched)
	for _, rel := range matched {
		n, err := utils.CopyTree(filepath.Join(root, rel), filepath.Join(dataDir, rel), h)
		if err != nil {
			return nil, fmt.Errorf("cache save %q: %w", key, err)
		}
		files += n
	}

	entry := &Entry{
		Key:     key,
		Paths:   paths,
		Files:   files,
		Digest:  fmt.Sprintf("%x", h.Sum(nil)),
		SavedAt: time.Now().UTC(),
	}
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "entry.json"), meta, 0644); err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}

	// swap the entry in under the key lock: last writer wins
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	final := s.entryDir(key)
	if err := os.RemoveAll(final); err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("cache save %q: %w", key, err)
	}
	return entry, nil
}

// Restore materializes the entry saved under key into dest. A miss returns
// (nil, nil); it is not an error.
func (s *Store) Restore(key, dest string) (*Entry, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	final := s.entryDir(key)
	meta, err := os.ReadFile(filepath.Join(final, "entry.json"))
	if os.IsNotExist(err) {
		return nil, nil // miss
	}
	if err != nil {
		return nil, fmt.Errorf("cache restore %q: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(meta, &entry); err != nil {
		return nil, fmt.Errorf("cache restore %q: %w", key, err)
	}
	if _, err := utils.CopyTree(filepath.Join(final, "data"), dest, nil); err != nil {
		return nil, fmt.Errorf("cache restore %q: %w", key, err)
	}
	return &entry, nil
}

// Delete removes the entry under key, if any
func (s *Store) Delete(key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.entryDir(key)); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// expandGlobs resolves path globs relative to root into relative paths
func expandGlobs(root string, paths []string) ([]string, error) {
	var matched []string
	for _, p := range paths {
		hits, err := filepath.Glob(filepath.Join(root, p))
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", p, err)
		}
		for _, hit := range hits {
			rel, err := filepath.Rel(root, hit)
			if err != nil {
				return nil, err
			}
			matched = append(matched, rel)
		}
	}
	return matched, nil
}

