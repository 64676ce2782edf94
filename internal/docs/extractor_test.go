package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDecodePlainFormats(t *testing.T) {
	for _, ext := range []string{".txt", ".csv", ".md"} {
		text, err := Decode(ext, []byte("hello world"))
		if err != nil {
			t.Fatalf("Decode(%s): %v", ext, err)
		}
		if text != "hello world" {
			t.Fatalf("Decode(%s) = %q", ext, text)
		}
	}
}

func TestDecodeUnknownExtensionBestEffort(t *testing.T) {
	text, err := Decode(".log", []byte("raw bytes"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "raw bytes" {
		t.Fatalf("text = %q", text)
	}
}

func TestDecodeCorruptPDFIsError(t *testing.T) {
	if _, err := Decode(".pdf", []byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
}

func TestDecodeCorruptSpreadsheetIsError(t *testing.T) {
	if _, err := Decode(".xlsx", []byte("not a workbook")); err == nil {
		t.Fatal("expected error for corrupt spreadsheet")
	}
}

func TestExtractLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("minutes of the kickoff"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	extractor := NewExtractor(nil, nil)
	text, err := extractor.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "kickoff") {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractMissingFileIsError(t *testing.T) {
	extractor := NewExtractor(nil, nil)
	if _, err := extractor.Extract(context.Background(), filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExtractS3WithoutStoreIsError(t *testing.T) {
	extractor := NewExtractor(nil, nil)
	if _, err := extractor.Extract(context.Background(), "s3://documents/abc.pdf"); err == nil {
		t.Fatal("expected error when no object store is configured")
	}
}

func TestExtensionOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"s3://documents/abc.PDF", ".pdf"},
		{"https://example.com/path/report.docx?token=x", ".docx"},
		{"/tmp/upload/notes.txt", ".txt"},
		{"plainname", ""},
	}
	for _, tc := range cases {
		if got := extensionOf(tc.in); got != tc.want {
			t.Errorf("extensionOf(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
