package examples

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "examples.json"))
}

func TestLoadMissingFileReturnsEmptyDataset(t *testing.T) {
	ds, err := newTestStore(t).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", ds.Len())
	}
}

func TestLoadCorruptFileReturnsEmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	ds, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", ds.Len())
	}
}

func TestLoadMismatchedArraysReturnsEmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.json")
	if err := os.WriteFile(path, []byte(`{"natural_language":["a","b"],"sql":["SELECT 1"]}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ds, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", ds.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	in := Dataset{
		Texts:   []string{"list employees", "count sales"},
		Queries: []string{"SELECT * FROM employees", "SELECT COUNT(*) FROM sales"},
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %#v != %#v", in, out)
	}
}

func TestAddDeduplicatesByTextHash(t *testing.T) {
	store := newTestStore(t)

	added, err := store.Add(
		[]string{"list employees", "count sales"},
		[]string{"SELECT * FROM employees", "SELECT COUNT(*) FROM sales"},
	)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	added, err = store.Add(
		[]string{"list employees", "top customers"},
		[]string{"SELECT * FROM employees", "SELECT name FROM customers LIMIT 10"},
	)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	ds, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", ds.Len())
	}
	hashes := make(map[string]struct{})
	for _, text := range ds.Texts {
		h := hashText(text)
		if _, ok := hashes[h]; ok {
			t.Fatalf("duplicate hash for %q", text)
		}
		hashes[h] = struct{}{}
	}
}

func TestAddSameTextTwiceAddsNothing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Add([]string{"list employees"}, []string{"SELECT * FROM employees"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	added, err := store.Add([]string{"list employees"}, []string{"SELECT * FROM employees"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added != 0 {
		t.Fatalf("added = %d, want 0", added)
	}
}

func TestAddNothingLeavesFileUntouched(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Add([]string{"q"}, []string{"SELECT 1"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	before, ok := store.LastUpdated()
	if !ok {
		t.Fatal("expected dataset file to exist")
	}
	if _, err := store.Add([]string{"q"}, []string{"SELECT 1"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	after, _ := store.LastUpdated()
	if !after.Equal(before) {
		t.Fatal("file rewritten despite zero additions")
	}
}

func TestAddConcurrentWritersLoseNothing(t *testing.T) {
	store := newTestStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("question %d", i)
			query := fmt.Sprintf("SELECT %d", i)
			if _, err := store.Add([]string{text}, []string{query}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Add() error = %v", err)
	}

	ds, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != writers {
		t.Fatalf("Len() = %d, want %d", ds.Len(), writers)
	}
}

func TestAddRejectsMismatchedInput(t *testing.T) {
	if _, err := newTestStore(t).Add([]string{"a", "b"}, []string{"SELECT 1"}); err == nil {
		t.Fatal("expected error for mismatched input arrays")
	}
}

func TestRecentReturnsLastPairs(t *testing.T) {
	ds := Dataset{
		Texts:   []string{"a", "b", "c", "d"},
		Queries: []string{"1", "2", "3", "4"},
	}
	recent := ds.Recent(3)
	if !reflect.DeepEqual(recent.Texts, []string{"b", "c", "d"}) {
		t.Fatalf("Recent().Texts = %v", recent.Texts)
	}
	if !reflect.DeepEqual(recent.Queries, []string{"2", "3", "4"}) {
		t.Fatalf("Recent().Queries = %v", recent.Queries)
	}
	if got := ds.Recent(10).Len(); got != 4 {
		t.Fatalf("Recent(10).Len() = %d", got)
	}
	if got := ds.Recent(0).Len(); got != 0 {
		t.Fatalf("Recent(0).Len() = %d", got)
	}
}
