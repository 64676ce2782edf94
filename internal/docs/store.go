// Package docs stores uploaded document metadata and resolves which
// documents a question refers to.
package docs

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the stored metadata for one uploaded document.
type Record struct {
	ID        string
	Name      string
	URL       string
	CreatedAt time.Time
}

const (
	insertDocumentSQL = `INSERT INTO documents (id, name, url, created_at) VALUES ($1, $2, $3, $4)`

	selectBySubjectAndDateSQL = `SELECT id, name, url, created_at FROM documents
WHERE name ILIKE $1 AND name ILIKE $2
ORDER BY created_at DESC LIMIT 3`

	selectBySubjectSQL = `SELECT id, name, url, created_at FROM documents
WHERE name ILIKE $1
ORDER BY created_at DESC LIMIT 10`

	selectByDateSQL = `SELECT id, name, url, created_at FROM documents
WHERE name ILIKE $1
ORDER BY created_at DESC LIMIT 3`

	selectFallbackSQL = `SELECT id, name, url, created_at FROM documents
WHERE name ILIKE '%MEETING%' OR name ILIKE '%MINUTES%'
ORDER BY created_at DESC LIMIT 3`
)

// Store persists document records in the warehouse database.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NormalizeName derives the canonical display name from an uploaded
// filename: extension stripped, separator runs collapsed to single
// hyphens, upper-cased.
func NormalizeName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = nonAlnum.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	return strings.ToUpper(base)
}

// Insert records a freshly uploaded document and returns the stored record.
func (s *Store) Insert(ctx context.Context, filename, url string) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Name:      NormalizeName(filename),
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	if rec.Name == "" {
		return Record{}, fmt.Errorf("document name empty after normalization of %q", filename)
	}
	if _, err := s.db.ExecContext(ctx, insertDocumentSQL, rec.ID, rec.Name, rec.URL, rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("insert document: %w", err)
	}
	return rec, nil
}

func (s *Store) findBySubjectAndDate(ctx context.Context, subject, date string) ([]Record, error) {
	return s.queryRecords(ctx, selectBySubjectAndDateSQL, like(subject), like(date))
}

func (s *Store) findBySubject(ctx context.Context, subject string) ([]Record, error) {
	return s.queryRecords(ctx, selectBySubjectSQL, like(subject))
}

func (s *Store) findByDate(ctx context.Context, date string) ([]Record, error) {
	return s.queryRecords(ctx, selectByDateSQL, like(date))
}

func (s *Store) findFallback(ctx context.Context) ([]Record, error) {
	return s.queryRecords(ctx, selectFallbackSQL)
}

func like(token string) string {
	return "%" + token + "%"
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.URL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return records, nil
}
