// Package examples persists the few-shot training pairs fed into SQL
// synthesis prompts.
package examples

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Dataset holds parallel arrays: Texts[i] is the natural-language question
// answered by Queries[i].
type Dataset struct {
	Texts   []string `json:"natural_language"`
	Queries []string `json:"sql"`
}

func (d Dataset) Len() int {
	return len(d.Texts)
}

// Recent returns the last n pairs in insertion order.
func (d Dataset) Recent(n int) Dataset {
	if n <= 0 || d.Len() == 0 {
		return Dataset{}
	}
	start := d.Len() - n
	if start < 0 {
		start = 0
	}
	return Dataset{Texts: d.Texts[start:], Queries: d.Queries[start:]}
}

// Store keeps the dataset in one JSON file. A mutex serializes the
// load-modify-save cycle so concurrent uploads cannot drop each other's
// pairs.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the dataset file. A missing or corrupt file yields an empty
// dataset, not an error.
func (s *Store) Load() (Dataset, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Dataset{Texts: []string{}, Queries: []string{}}, nil
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil || len(ds.Texts) != len(ds.Queries) {
		return Dataset{Texts: []string{}, Queries: []string{}}, nil
	}
	if ds.Texts == nil {
		ds.Texts = []string{}
	}
	if ds.Queries == nil {
		ds.Queries = []string{}
	}
	return ds, nil
}

// Save writes through a temp file and rename so a crash mid-write never
// corrupts the store.
func (s *Store) Save(ds Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ds)
}

func (s *Store) save(ds Dataset) error {
	if len(ds.Texts) != len(ds.Queries) {
		return fmt.Errorf("dataset arrays must be parallel: %d texts, %d queries", len(ds.Texts), len(ds.Queries))
	}
	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".examples-*.json")
	if err != nil {
		return fmt.Errorf("create temp dataset file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp dataset file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp dataset file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace dataset file: %w", err)
	}
	return nil
}

// Add appends pairs whose text hash is not already present, preserving input
// order, and reports how many were added. Dedup runs against a freshly
// loaded store each call, under the write lock, so concurrent writers
// converge.
func (s *Store) Add(texts, queries []string) (int, error) {
	if len(texts) != len(queries) {
		return 0, fmt.Errorf("input arrays must be parallel: %d texts, %d queries", len(texts), len(queries))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.Load()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, ds.Len())
	for _, text := range ds.Texts {
		seen[hashText(text)] = struct{}{}
	}

	added := 0
	for i, text := range texts {
		h := hashText(text)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		ds.Texts = append(ds.Texts, text)
		ds.Queries = append(ds.Queries, queries[i])
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.save(ds); err != nil {
		return 0, err
	}
	return added, nil
}

// Total reports how many examples are currently stored.
func (s *Store) Total() (int, error) {
	ds, err := s.Load()
	if err != nil {
		return 0, err
	}
	return ds.Len(), nil
}

// LastUpdated reports the dataset file's modification time, or zero when the
// file does not exist yet.
func (s *Store) LastUpdated() (time.Time, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func hashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
