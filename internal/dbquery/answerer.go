package dbquery

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/fraudqa/internal/llm"
)

const (
	sqlMaxTokens = 2500
	sqlTimeout   = 90 * time.Second
)

// Chatter is the interface for chat completion.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// QueryRunner executes read-only SQL and returns a bounded row preview.
type QueryRunner interface {
	QueryPreview(ctx context.Context, query string) ([]map[string]any, error)
}

// QueryResult is the outcome of the NL-to-SQL leg for one question.
type QueryResult struct {
	OK          bool             `json:"ok"`
	SQL         string           `json:"sql"`
	Notes       string           `json:"notes"`
	RowsPreview []map[string]any `json:"rows_preview"`
	Error       string           `json:"error"`
	Raw         string           `json:"raw"`
}

// Answerer turns an analytics question into one SELECT statement and
// runs it against the transactions table.
type Answerer struct {
	llm   Chatter
	store QueryRunner
}

// NewAnswerer creates an Answerer backed by the given chat client and store.
func NewAnswerer(llmClient Chatter, store QueryRunner) *Answerer {
	return &Answerer{llm: llmClient, store: store}
}

// Answer synthesizes a SQL query for the question and executes it.
// A declared "unsupported" question and a failing query both come back
// as OK=false results, not errors; only the LLM transport fails hard.
func (a *Answerer) Answer(ctx context.Context, question string) (QueryResult, error) {
	raw, err := a.llm.Complete(ctx, llm.Request{
		System:    sqlSystem,
		User:      question,
		MaxTokens: sqlMaxTokens,
		Timeout:   sqlTimeout,
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("synthesizing query: %w", err)
	}

	fields, _ := llm.ParseFields(raw)
	notes, _ := fields.String("notes")

	query, present := fields.String("sql")
	if !present || query == "" {
		if notes == "" {
			notes = "No SQL returned"
		}
		return QueryResult{OK: false, Notes: notes, Raw: raw}, nil
	}

	if err := ValidateQuery(query); err != nil {
		return QueryResult{
			OK:    false,
			SQL:   query,
			Notes: notes,
			Error: fmt.Sprintf("SQL error: %v", err),
			Raw:   raw,
		}, nil
	}

	rows, err := a.store.QueryPreview(ctx, query)
	if err != nil {
		return QueryResult{
			OK:    false,
			SQL:   query,
			Notes: notes,
			Error: fmt.Sprintf("SQL error: %v", err),
			Raw:   raw,
		}, nil
	}

	return QueryResult{
		OK:          true,
		SQL:         query,
		Notes:       notes,
		RowsPreview: rows,
		Raw:         raw,
	}, nil
}
