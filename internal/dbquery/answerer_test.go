package dbquery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/fraudqa/internal/llm"
)

type mockChatter struct {
	lastReq  llm.Request
	response string
	err      error
}

func (m *mockChatter) Complete(_ context.Context, req llm.Request) (string, error) {
	m.lastReq = req
	return m.response, m.err
}

type mockRunner struct {
	lastQuery string
	rows      []map[string]any
	err       error
	called    bool
}

func (m *mockRunner) QueryPreview(_ context.Context, query string) ([]map[string]any, error) {
	m.called = true
	m.lastQuery = query
	return m.rows, m.err
}

func TestAnswer_ExecutesQuery(t *testing.T) {
	chatter := &mockChatter{response: `{"sql":"SELECT COUNT(*) AS n FROM transactions LIMIT 50","notes":"count of all rows"}`}
	runner := &mockRunner{rows: []map[string]any{{"n": int64(1296675)}}}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "how many transactions are there?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.OK {
		t.Fatalf("OK = false, error = %q", res.Error)
	}
	if runner.lastQuery != "SELECT COUNT(*) AS n FROM transactions LIMIT 50" {
		t.Errorf("executed %q", runner.lastQuery)
	}
	if len(res.RowsPreview) != 1 || res.RowsPreview[0]["n"] != int64(1296675) {
		t.Errorf("RowsPreview = %v", res.RowsPreview)
	}
	if res.Notes != "count of all rows" {
		t.Errorf("Notes = %q", res.Notes)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty", res.Error)
	}
}

func TestAnswer_RequestShape(t *testing.T) {
	chatter := &mockChatter{response: `{"sql":"SELECT 1 LIMIT 1","notes":""}`}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	if _, err := a.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	req := chatter.lastReq
	if req.System != sqlSystem {
		t.Error("unexpected system prompt")
	}
	if req.User != "q" {
		t.Errorf("User = %q", req.User)
	}
	if req.MaxTokens != 2500 {
		t.Errorf("MaxTokens = %d, want 2500", req.MaxTokens)
	}
	if req.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", req.Timeout)
	}
}

func TestAnswer_Unsupported(t *testing.T) {
	chatter := &mockChatter{response: `{"sql":null,"notes":"UNSUPPORTED: needs weather data"}`}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "was it raining during fraud spikes?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.OK {
		t.Error("OK = true, want false")
	}
	if res.SQL != "" {
		t.Errorf("SQL = %q, want empty", res.SQL)
	}
	if res.Notes != "UNSUPPORTED: needs weather data" {
		t.Errorf("Notes = %q", res.Notes)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty; unsupported is not an error", res.Error)
	}
	if runner.called {
		t.Error("runner should not be called without SQL")
	}
}

func TestAnswer_MissingSQLKey(t *testing.T) {
	chatter := &mockChatter{response: `{"notes":""}`}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.OK {
		t.Error("OK = true, want false")
	}
	if res.Notes != "No SQL returned" {
		t.Errorf("Notes = %q, want the default", res.Notes)
	}
}

func TestAnswer_NonJSONCompletion(t *testing.T) {
	chatter := &mockChatter{response: "SELECT COUNT(*) FROM transactions"}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.OK {
		t.Error("OK = true, want false; bare SQL without the JSON envelope is rejected")
	}
	if res.Notes != "No SQL returned" {
		t.Errorf("Notes = %q", res.Notes)
	}
	if res.Raw != chatter.response {
		t.Errorf("Raw = %q", res.Raw)
	}
	if runner.called {
		t.Error("runner should not be called")
	}
}

func TestAnswer_GuardRejects(t *testing.T) {
	chatter := &mockChatter{response: `{"sql":"DELETE FROM transactions","notes":"oops"}`}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.OK {
		t.Error("OK = true, want false")
	}
	if !strings.HasPrefix(res.Error, "SQL error:") {
		t.Errorf("Error = %q", res.Error)
	}
	if res.SQL != "DELETE FROM transactions" {
		t.Errorf("SQL = %q, want the rejected statement preserved", res.SQL)
	}
	if runner.called {
		t.Error("rejected statement must never reach the database")
	}
}

func TestAnswer_ExecutionError(t *testing.T) {
	chatter := &mockChatter{response: `{"sql":"SELECT nope FROM transactions LIMIT 50","notes":""}`}
	runner := &mockRunner{err: errors.New("no such column: nope")}
	a := NewAnswerer(chatter, runner)

	res, err := a.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.OK {
		t.Error("OK = true, want false")
	}
	if res.Error != "SQL error: no such column: nope" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.SQL != "SELECT nope FROM transactions LIMIT 50" {
		t.Errorf("SQL = %q, want the attempted statement preserved", res.SQL)
	}
	if res.RowsPreview != nil {
		t.Errorf("RowsPreview = %v, want nil", res.RowsPreview)
	}
}

func TestAnswer_TransportError(t *testing.T) {
	chatter := &mockChatter{err: errors.New("connection refused")}
	runner := &mockRunner{}
	a := NewAnswerer(chatter, runner)

	if _, err := a.Answer(context.Background(), "q"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if runner.called {
		t.Error("runner should not be called")
	}
}
