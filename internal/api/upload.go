package api

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/storage"
)

const defaultMaxUploadBytes = 25 << 20

type datasetRequest struct {
	NaturalLanguage []string `json:"natural_language"`
	SQL             []string `json:"sql"`
}

func handleDatasetUpload(deps Dependencies, state *handlerState, w http.ResponseWriter, r *http.Request) {
	if deps.Examples == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "example store is not configured", false, nil)
		return
	}

	var request datasetRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid dataset body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(request.NaturalLanguage) == 0 || len(request.NaturalLanguage) != len(request.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_SHAPE", "natural_language and sql must be non-empty parallel arrays of equal length", false, nil)
		return
	}

	// A byte-identical dataset upload is acknowledged without touching
	// the store.
	digest := datasetDigest(request)
	state.mu.Lock()
	_, seen := state.datasetHashes[digest]
	state.mu.Unlock()
	if seen {
		writeJSON(w, http.StatusOK, map[string]any{"status": "exists"})
		return
	}

	added, err := deps.Examples.Add(request.NaturalLanguage, request.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_SAVE_FAILED", err.Error(), true, nil)
		return
	}
	// The digest is remembered only once the store accepted the payload,
	// so a retried failure still persists.
	state.mu.Lock()
	state.datasetHashes[digest] = struct{}{}
	state.mu.Unlock()
	observability.AddExamplesAdded(added)

	total, err := deps.Examples.Total()
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_READ_FAILED", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"added":          added,
		"total_examples": total,
	})
}

func datasetDigest(request datasetRequest) string {
	normalized, _ := json.Marshal(request)
	sum := md5.Sum(normalized)
	return hex.EncodeToString(sum[:])
}

func handleDatasetStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Examples == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "example store is not configured", false, nil)
		return
	}
	total, err := deps.Examples.Total()
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_READ_FAILED", err.Error(), true, nil)
		return
	}
	payload := map[string]any{"total_examples": total}
	if updated, ok := deps.Examples.LastUpdated(); ok {
		payload["last_updated"] = updated.UTC().Format(time.RFC3339)
	} else {
		payload["last_updated"] = nil
	}
	writeJSON(w, http.StatusOK, payload)
}

func handleDocumentUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil || deps.Documents == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DOCUMENTS_NOT_CONFIGURED", "document storage is not configured", false, nil)
		return
	}

	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "could not parse multipart upload", false, map[string]any{"details": err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_READ_FAILED", err.Error(), false, nil)
		return
	}

	key, err := storage.BuildDocumentKey(uuid.NewString(), header.Filename)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILENAME", err.Error(), false, nil)
		return
	}

	info, err := deps.Objects.Put(r.Context(), key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentTypeFor(header.Filename),
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_FAILED", err.Error(), true, nil)
		return
	}

	rec, err := deps.Documents.Insert(r.Context(), header.Filename, storage.DocumentURL(bucketFor(deps), info.Key))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DOCUMENT_INSERT_FAILED", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"document": map[string]any{
			"name": rec.Name,
			"url":  rec.URL,
		},
	})
}

// BucketNamer is implemented by object stores that know their bucket.
type BucketNamer interface {
	Bucket() string
}

func bucketFor(deps Dependencies) string {
	if namer, ok := deps.Objects.(BucketNamer); ok {
		return namer.Bucket()
	}
	return "querychat"
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	text, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_REFRESH_FAILED", err.Error(), true, map[string]any{
			"fallback_chars": len(text),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"schema_chars": len(text),
	})
}
