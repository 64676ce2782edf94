package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// Result carries a statement's rows together with the column order the
// statement produced, which downstream chart shaping depends on.
type Result struct {
	Columns []string
	Rows    [][]any
}

type RejectedStatementError struct {
	Reason string
	SQL    string
}

func (e *RejectedStatementError) Error() string {
	return fmt.Sprintf("rejected statement: %s", e.Reason)
}

var allowedVerbs = []string{"select", "insert", "update", "delete"}

// leakTokens are filler words a failed generation leaves in place of real
// identifiers. Matched as bare words, not substrings, so columns like
// "this_year" pass.
var leakTokens = regexp.MustCompile(`(?i)\b(this|that)\b`)

type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping warehouse db: %w", err)
	}
	return nil
}

// Execute runs one generated statement and collects all rows. The statement
// gate rejects text that does not start with an allowed verb or that still
// carries generation leak tokens; rejection is an error, never a retry.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	if err := checkStatement(sqlText); err != nil {
		return Result{}, err
	}

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate result rows: %w", err)
	}
	return result, nil
}

func checkStatement(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &RejectedStatementError{Reason: "statement is empty", SQL: sqlText}
	}
	lowered := strings.ToLower(trimmed)
	allowed := false
	for _, verb := range allowedVerbs {
		if strings.HasPrefix(lowered, verb) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &RejectedStatementError{Reason: "statement must start with SELECT, INSERT, UPDATE or DELETE", SQL: sqlText}
	}
	if leakTokens.MatchString(trimmed) {
		return &RejectedStatementError{Reason: "statement contains placeholder tokens from a failed generation", SQL: sqlText}
	}
	return nil
}
