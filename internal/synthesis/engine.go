// Package synthesis builds prompts for the completion backend and shapes
// its raw output into SQL statements or natural-language answers.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/querychat/querychat/internal/examples"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/warehouse"
)

// documentTextBudget caps how much extracted document text one prompt may
// carry.
const documentTextBudget = 15000

const summarySampleRows = 3

// SchemaSource supplies the schema description text. A degraded (stale or
// empty) context is served with a non-nil error; prompt building proceeds
// with whatever text came back.
type SchemaSource interface {
	Context(ctx context.Context) (string, error)
}

// ExampleSource supplies stored few-shot pairs.
type ExampleSource interface {
	Load() (examples.Dataset, error)
}

type Engine struct {
	completer Completer
	schema    SchemaSource
	examples  ExampleSource
	fewShot   int
	logger    *slog.Logger
}

func NewEngine(completer Completer, schema SchemaSource, exampleSource ExampleSource, fewShot int, logger *slog.Logger) *Engine {
	if fewShot <= 0 {
		fewShot = 3
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		completer: completer,
		schema:    schema,
		examples:  exampleSource,
		fewShot:   fewShot,
		logger:    logger,
	}
}

// SynthesizeSQL turns a question into a SQL statement. Backend failure
// propagates; this is the primary path and has no safe fallback.
func (e *Engine) SynthesizeSQL(ctx context.Context, question string, chartMode bool) (string, error) {
	schemaText, err := e.schema.Context(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "synthesizing with degraded schema context", slog.Any("error", err))
	}
	ds, err := e.examples.Load()
	if err != nil {
		return "", fmt.Errorf("load examples: %w", err)
	}

	prompt := buildSQLPrompt(schemaText, ds.Recent(e.fewShot), question, chartMode)
	raw, err := e.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	sqlText := stripMarkdownFences(raw)
	if sqlText == "" {
		return "", fmt.Errorf("completion produced no SQL")
	}
	return sqlText, nil
}

// Summarize explains a result set in plain language. It never fails: a
// backend error degrades to a raw join of the row values.
func (e *Engine) Summarize(ctx context.Context, question string, result warehouse.Result) string {
	if len(result.Rows) == 0 {
		return "No matching records found in the database."
	}

	prompt := buildSummaryPrompt(question, result)
	answer, err := e.generate(ctx, prompt)
	if err != nil {
		e.logger.WarnContext(ctx, "summary generation failed, returning raw rows", slog.Any("error", err))
		return rawRowsFallback(result)
	}
	return strings.TrimSpace(answer)
}

// AnswerFromDocument answers a question using only the supplied document
// text, truncated to the prompt budget.
func (e *Engine) AnswerFromDocument(ctx context.Context, question, documentText string) (string, error) {
	text := truncateToRuneBoundary(documentText, documentTextBudget)
	prompt := fmt.Sprintf(`Answer the question using ONLY the document text below.
If the document does not contain the information, say so explicitly instead of inventing an answer.

Document:
%s

Question: %s

Answer:`, text, question)

	answer, err := e.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	answer, err := e.completer.Generate(ctx, prompt)
	observability.ObserveCompletion(time.Since(start))
	return answer, err
}

func buildSQLPrompt(schemaText string, recent examples.Dataset, question string, chartMode bool) string {
	var b strings.Builder
	b.WriteString("Database Expert Instructions:\n")
	b.WriteString(schemaText)
	b.WriteString("\n\nRecent Examples:\n")
	for i := range recent.Texts {
		fmt.Fprintf(&b, "\nQ: %s\nA: %s\n", recent.Texts[i], recent.Queries[i])
	}
	b.WriteString(`
Generate ONLY valid PostgreSQL queries. Follow these rules:
1. Never include explanations or comments in the SQL
2. Always start with SELECT, INSERT, UPDATE or DELETE
3. Never include markdown backticks
4. Never include the word "This" in the query
`)
	if chartMode {
		b.WriteString("\nCHART REQUEST: Return exactly 2 columns with clear aliases\n")
	}
	fmt.Fprintf(&b, "\nNew Query:\nQ: %s\nA: ", question)
	return b.String()
}

func buildSummaryPrompt(question string, result warehouse.Result) string {
	sample := result.Rows
	if len(sample) > summarySampleRows {
		sample = sample[:summarySampleRows]
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		sampleJSON = []byte("[]")
	}
	return fmt.Sprintf(`User Question: %q

Database Query Results:
- Columns: %s
- Total Records: %d
- Sample Data: %s

Please generate a concise but informative English response that:
1. Answers the user's question directly
2. Provides relevant insights from the data
3. Uses natural language (no SQL or technical jargon)
4. Highlights any interesting patterns if applicable

Response:`, question, strings.Join(result.Columns, ", "), len(result.Rows), sampleJSON)
}

func rawRowsFallback(result warehouse.Result) string {
	var b strings.Builder
	b.WriteString("Here are the results from your query:\n")
	for i, row := range result.Rows {
		if i > 0 {
			b.WriteString("\n")
		}
		parts := make([]string, len(row))
		for j, value := range row {
			parts[j] = fmt.Sprintf("%v", value)
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

// truncateToRuneBoundary cuts text to at most max bytes, backing off so a
// multi-byte rune is never split.
func truncateToRuneBoundary(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// stripMarkdownFences removes code-fence markers anywhere in the completion.
// Advisory cleanup only; the warehouse statement gate does the rejecting.
func stripMarkdownFences(value string) string {
	value = strings.ReplaceAll(value, "```sql", "")
	value = strings.ReplaceAll(value, "```", "")
	return strings.TrimSpace(value)
}
