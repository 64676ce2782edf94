package migrations

import (
	"strings"
	"testing"
)

func TestDocumentsMigrationShape(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_documents.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	for _, snippet := range []string{
		"CREATE TABLE documents",
		"documents_name_idx",
		"documents_created_at_idx",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("documents migration missing %q", snippet)
		}
	}

	down, err := embeddedFS.ReadFile("sql/000001_documents.down.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(down), "DROP TABLE IF EXISTS documents") {
		t.Fatalf("down migration does not drop documents: %s", down)
	}
}

func TestEmbeddedScriptsAreWellFormed(t *testing.T) {
	pairs, err := readScripts(embeddedFS)
	if err != nil {
		t.Fatalf("readScripts() error = %v", err)
	}
	if len(pairs) == 0 {
		t.Fatal("no embedded migration scripts found")
	}
}
