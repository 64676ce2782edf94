package storage

import "testing"

func TestBuildDocumentKey(t *testing.T) {
	key, err := BuildDocumentKey("4f1c2d", "Alpha Project Review.PDF")
	if err != nil {
		t.Fatalf("BuildDocumentKey() error = %v", err)
	}
	if key != "documents/4f1c2d.pdf" {
		t.Fatalf("key = %q", key)
	}
}

func TestBuildDocumentKeyDropsOddExtensions(t *testing.T) {
	key, err := BuildDocumentKey("4f1c2d", "archive.tar.gz.backup-of-backup")
	if err != nil {
		t.Fatalf("BuildDocumentKey() error = %v", err)
	}
	if key != "documents/4f1c2d" {
		t.Fatalf("key = %q", key)
	}
}

func TestBuildDocumentKeyRejectsBadID(t *testing.T) {
	if _, err := BuildDocumentKey("../escape", "a.pdf"); err == nil {
		t.Fatal("expected error for id with path separator")
	}
	if _, err := BuildDocumentKey("  ", "a.pdf"); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestDocumentURLRoundTrip(t *testing.T) {
	url := DocumentURL("querychat", "documents/4f1c2d.pdf")
	if url != "s3://querychat/documents/4f1c2d.pdf" {
		t.Fatalf("url = %q", url)
	}
	bucket, key, err := ParseDocumentURL(url)
	if err != nil {
		t.Fatalf("ParseDocumentURL() error = %v", err)
	}
	if bucket != "querychat" || key != "documents/4f1c2d.pdf" {
		t.Fatalf("bucket/key = %q/%q", bucket, key)
	}
}

func TestParseDocumentURLRejectsOtherSchemes(t *testing.T) {
	if _, _, err := ParseDocumentURL("https://example.com/x.pdf"); err == nil {
		t.Fatal("expected error for non-s3 scheme")
	}
}
