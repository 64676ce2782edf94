package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const documentPrefix = "documents"

var extensionPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// BuildDocumentKey derives the object key for an uploaded document from
// its assigned identifier and original filename. The original name never
// reaches the key; only its extension survives so decoders can dispatch.
func BuildDocumentKey(id, filename string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("document id is required")
	}
	if strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("invalid document id: %q", id)
	}
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if ext != "" && !extensionPattern.MatchString(ext) {
		ext = ""
	}
	return path.Join(documentPrefix, id+ext), nil
}

// DocumentURL renders the stable s3 URL stored alongside a document record.
func DocumentURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.TrimPrefix(key, "/"))
}

// ParseDocumentURL splits an s3 URL into bucket and object key.
func ParseDocumentURL(rawURL string) (bucket, key string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse document URL: %w", err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("unsupported document URL scheme %q", parsed.Scheme)
	}
	bucket = parsed.Host
	key = strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("document URL %q missing bucket or key", rawURL)
	}
	return bucket, key, nil
}
