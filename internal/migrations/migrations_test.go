package migrations

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func documentsFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000001_documents.up.sql":   {Data: []byte("CREATE TABLE documents (id UUID PRIMARY KEY);")},
		"sql/000001_documents.down.sql": {Data: []byte("DROP TABLE IF EXISTS documents;")},
		"sql/000002_indexes.up.sql":     {Data: []byte("CREATE INDEX documents_name_idx ON documents (name);")},
		"sql/000002_indexes.down.sql":   {Data: []byte("DROP INDEX IF EXISTS documents_name_idx;")},
	}
}

func testRunner(fsys fstest.MapFS) *Runner {
	return &Runner{fsys: fsys, logger: slog.New(slog.DiscardHandler)}
}

func TestReadScriptsSortsAndPairsDirections(t *testing.T) {
	pairs, err := readScripts(documentsFS())
	if err != nil {
		t.Fatalf("readScripts() error = %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("len(pairs) = %d", len(pairs))
	}
	if pairs[0].Version != 1 || pairs[1].Version != 2 {
		t.Fatalf("unexpected order: %+v", pairs)
	}
	if !strings.Contains(pairs[0].UpSQL, "CREATE TABLE documents") {
		t.Fatalf("up script = %q", pairs[0].UpSQL)
	}
}

func TestReadScriptsRejectsMissingDownScript(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_documents.up.sql": {Data: []byte("CREATE TABLE documents (id UUID PRIMARY KEY);")},
	}
	_, err := readScripts(fsys)
	if err == nil {
		t.Fatal("expected error for missing down script")
	}
	if !strings.Contains(err.Error(), "no down script") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpAppliesPendingScriptsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS querychat_schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM querychat_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	// Version 1 is already applied, so only version 2 runs.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE INDEX documents_name_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO querychat_schema_migrations").
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := testRunner(documentsFS()).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackNewestVersionFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS querychat_schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM querychat_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)).AddRow(int64(2)))

	mock.ExpectBegin()
	mock.ExpectExec("DROP INDEX IF EXISTS documents_name_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM querychat_schema_migrations").
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := testRunner(documentsFS()).Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolledBack = %d, want 1", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRejectsVersionWithoutScript(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS querychat_schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM querychat_schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(9)))

	_, err = testRunner(documentsFS()).Down(context.Background(), db, 1)
	if err == nil || !strings.Contains(err.Error(), "has no script") {
		t.Fatalf("unexpected error: %v", err)
	}
}
