// Package api exposes the chat, dataset and document endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/docs"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/storage"
	"github.com/querychat/querychat/internal/warehouse"
)

type ReadinessCheck func(ctx context.Context) error

// SchemaCache serves the cached schema description and refreshes it.
type SchemaCache interface {
	Context(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// ExampleStore manages the few-shot training examples.
type ExampleStore interface {
	Add(texts, queries []string) (int, error)
	Total() (int, error)
	LastUpdated() (time.Time, bool)
}

// Synthesizer is the completion-backed prompt engine.
type Synthesizer interface {
	SynthesizeSQL(ctx context.Context, question string, chartMode bool) (string, error)
	Summarize(ctx context.Context, question string, result warehouse.Result) string
	AnswerFromDocument(ctx context.Context, question, documentText string) (string, error)
}

// QueryExecutor runs generated SQL against the warehouse.
type QueryExecutor interface {
	Execute(ctx context.Context, sqlText string) (warehouse.Result, error)
}

// DocumentResolver picks stored documents matching a question.
type DocumentResolver interface {
	Resolve(ctx context.Context, question string) ([]docs.Record, error)
}

// DocumentExtractor decodes a stored document to plain text.
type DocumentExtractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// DocumentStore persists uploaded document metadata.
type DocumentStore interface {
	Insert(ctx context.Context, filename, url string) (docs.Record, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Schema            SchemaCache
	Examples          ExampleStore
	Synthesizer       Synthesizer
	Executor          QueryExecutor
	Resolver          DocumentResolver
	Extractor         DocumentExtractor
	Documents         DocumentStore
	Objects           storage.ObjectStore
	MaxUploadBytes    int64
}

// handlerState carries per-process mutable state shared across requests.
type handlerState struct {
	mu            sync.Mutex
	datasetHashes map[string]struct{}
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	state := &handlerState{datasetHashes: map[string]struct{}{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	mux.HandleFunc("POST /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetUpload(deps, state, w, r)
	})
	mux.HandleFunc("GET /v1/datasets/status", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetStatus(deps, w, r)
	})
	mux.HandleFunc("POST /v1/documents", func(w http.ResponseWriter, r *http.Request) {
		handleDocumentUpload(deps, w, r)
	})
	mux.HandleFunc("POST /v1/schema/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleSchemaRefresh(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckWarehouseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Warehouse.DSN == "" {
			return errors.New("warehouse dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
