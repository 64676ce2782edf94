package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/querychat/querychat/internal/chart"
	"github.com/querychat/querychat/internal/docs"
	"github.com/querychat/querychat/internal/intent"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/respond"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

// lastUserContent returns the content of the newest message; prior turns
// are context the completion prompt does not currently use.
func (r chatRequest) lastUserContent() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Messages[len(r.Messages)-1].Content)
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Synthesizer == nil || deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	message := request.lastUserContent()
	if message == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "at least one message with content is required", false, nil)
		return
	}

	envelope := runPipeline(r, deps, message)
	writeJSON(w, http.StatusOK, envelope)
}

// runPipeline routes the utterance and runs the chosen pipeline to a
// normalized envelope. Every failure becomes an error envelope here; no
// pipeline error escapes to the transport layer.
func runPipeline(r *http.Request, deps Dependencies, message string) respond.Envelope {
	pipeline := intent.Route(message)

	var envelope respond.Envelope
	switch pipeline {
	case intent.PipelineChart:
		envelope = runChartPipeline(r, deps, message)
	case intent.PipelineDocument:
		envelope = runDocumentPipeline(r, deps, message)
	default:
		envelope = runSQLPipeline(r, deps, message)
	}

	outcome := "ok"
	if envelope.Error {
		outcome = "error"
	}
	observability.ObservePipeline(string(pipeline), outcome)
	return envelope
}

func runSQLPipeline(r *http.Request, deps Dependencies, message string) respond.Envelope {
	ctx := r.Context()

	sqlText, err := deps.Synthesizer.SynthesizeSQL(ctx, message, false)
	if err != nil {
		logPipelineError(r, deps, "sql", "synthesize", err)
		return respond.Failure(fmt.Sprintf("Could not generate a query for that question: %v", err))
	}

	result, err := deps.Executor.Execute(ctx, sqlText)
	if err != nil {
		logPipelineError(r, deps, "sql", "execute", err)
		return respond.Failure(fmt.Sprintf("The generated query failed to run: %v", err))
	}

	answer := deps.Synthesizer.Summarize(ctx, message, result)
	return respond.SQL(sqlText, result, answer)
}

func runChartPipeline(r *http.Request, deps Dependencies, message string) respond.Envelope {
	ctx := r.Context()

	sqlText, err := deps.Synthesizer.SynthesizeSQL(ctx, message, true)
	if err != nil {
		logPipelineError(r, deps, "chart", "synthesize", err)
		return respond.Failure(fmt.Sprintf("Could not generate a query for that chart: %v", err))
	}

	result, err := deps.Executor.Execute(ctx, sqlText)
	if err != nil {
		logPipelineError(r, deps, "chart", "execute", err)
		return respond.Failure(fmt.Sprintf("The generated query failed to run: %v", err))
	}

	series, err := chart.Build(result)
	if err != nil {
		logPipelineError(r, deps, "chart", "shape", err)
		return respond.Failure(fmt.Sprintf("Could not build a chart from the results: %v. Ask for the same data without a chart to see it as a table.", err))
	}

	return respond.Chart(sqlText, series, "")
}

func runDocumentPipeline(r *http.Request, deps Dependencies, message string) respond.Envelope {
	ctx := r.Context()

	if deps.Resolver == nil || deps.Extractor == nil {
		return respond.Failure("Document questions are not available: no document store is configured.")
	}

	records, err := deps.Resolver.Resolve(ctx, message)
	if err != nil {
		var notFound *docs.NotFoundError
		if errors.As(err, &notFound) {
			return respond.Failure(notFound.Error())
		}
		logPipelineError(r, deps, "document", "resolve", err)
		return respond.Failure(fmt.Sprintf("Could not look up documents: %v", err))
	}

	// One bad document never aborts the batch; it contributes a
	// per-document failure answer instead.
	answers := make([]respond.DocumentAnswer, 0, len(records))
	for _, rec := range records {
		info := respond.DocumentInfo{Name: rec.Name, URL: rec.URL}

		text, err := deps.Extractor.Extract(ctx, rec.URL)
		if err != nil {
			logPipelineError(r, deps, "document", "extract", err)
			answers = append(answers, respond.DocumentAnswer{
				Answer:       "Could not extract text from this document.",
				DocumentInfo: info,
			})
			continue
		}

		answer, err := deps.Synthesizer.AnswerFromDocument(ctx, message, text)
		if err != nil {
			logPipelineError(r, deps, "document", "answer", err)
			answers = append(answers, respond.DocumentAnswer{
				Answer:       "Could not analyze this document.",
				DocumentInfo: info,
			})
			continue
		}
		answers = append(answers, respond.DocumentAnswer{Answer: answer, DocumentInfo: info})
	}

	return respond.Document(answers)
}

func logPipelineError(r *http.Request, deps Dependencies, pipeline, stage string, err error) {
	if deps.Logger == nil {
		return
	}
	deps.Logger.ErrorContext(r.Context(), "pipeline stage failed",
		"pipeline", pipeline,
		"stage", stage,
		"error", err,
	)
}
