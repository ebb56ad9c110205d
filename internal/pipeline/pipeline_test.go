package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/fraudqa/internal/composer"
	"github.com/kalambet/fraudqa/internal/dbquery"
	"github.com/kalambet/fraudqa/internal/intent"
	"github.com/kalambet/fraudqa/internal/retrieval"
	"github.com/kalambet/fraudqa/internal/storage"
)

type mockRouter struct {
	decision intent.Decision
	err      error
}

func (m *mockRouter) Route(_ context.Context, _ string) (intent.Decision, error) {
	return m.decision, m.err
}

type mockQuery struct {
	result dbquery.QueryResult
	err    error
	calls  int
}

func (m *mockQuery) Answer(_ context.Context, _ string) (dbquery.QueryResult, error) {
	m.calls++
	return m.result, m.err
}

type mockRAG struct {
	result retrieval.Result
	err    error
	calls  int
}

func (m *mockRAG) Answer(_ context.Context, _ string) (retrieval.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockComposer struct {
	lastRoute intent.Decision
	lastDB    *dbquery.QueryResult
	lastRAG   *retrieval.Result
	out       composer.FinalAnswer
	err       error
	calls     int
}

func (m *mockComposer) Compose(_ context.Context, _ string, route intent.Decision, db *dbquery.QueryResult, rag *retrieval.Result) (composer.FinalAnswer, error) {
	m.calls++
	m.lastRoute = route
	m.lastDB = db
	m.lastRAG = rag
	return m.out, m.err
}

type mockRecorder struct {
	runs []storage.Run
	err  error
}

func (m *mockRecorder) SaveRun(r storage.Run) error {
	m.runs = append(m.runs, r)
	return m.err
}

func decision(route string) intent.Decision {
	return intent.Decision{Route: route, Confidence: 0.9, Reason: "test"}
}

func okQuery() dbquery.QueryResult {
	return dbquery.QueryResult{OK: true, SQL: "SELECT 1 LIMIT 1", RowsPreview: []map[string]any{{"n": 1}}}
}

func okRAG() retrieval.Result {
	return retrieval.Result{OK: true, Context: "ctx", Sources: []string{"survey.pdf p.1"}, Answer: "draft"}
}

func TestAsk_RouteDB(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteDB)}
	db := &mockQuery{result: okQuery()}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "42 rows", Citations: []string{}, QualityScore: 0.95, QualityReason: "direct"}}

	p := New(router, db, rag, comp, nil)
	resp, err := p.Ask(context.Background(), "how many rows?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if db.calls != 1 {
		t.Errorf("db calls = %d, want 1", db.calls)
	}
	if rag.calls != 0 {
		t.Errorf("rag calls = %d, want 0; the db route succeeded", rag.calls)
	}
	if comp.lastDB == nil || comp.lastRAG != nil {
		t.Errorf("composer got db=%v rag=%v", comp.lastDB, comp.lastRAG)
	}
	if resp.Mode != intent.RouteDB {
		t.Errorf("Mode = %q, want db", resp.Mode)
	}
	if resp.Answer != "42 rows" || resp.QualityScore != 0.95 {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.Debug.DBOut == nil || !resp.Debug.DBOut.OK {
		t.Error("debug trace is missing the query output")
	}
	if resp.ElapsedMs < 0 {
		t.Errorf("ElapsedMs = %f", resp.ElapsedMs)
	}
}

func TestAsk_RouteDBFallsBackToRAG(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteDB)}
	db := &mockQuery{result: dbquery.QueryResult{OK: false, Notes: "UNSUPPORTED: no such data"}}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "from documents"}}

	p := New(router, db, rag, comp, nil)
	resp, err := p.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if rag.calls != 1 {
		t.Errorf("rag calls = %d, want 1 fallback attempt", rag.calls)
	}
	if comp.lastDB == nil || comp.lastRAG == nil {
		t.Error("composer should see both the failed query and the fallback retrieval")
	}
	if resp.Mode != intent.RouteDB {
		t.Errorf("Mode = %q; fallback does not change the reported route", resp.Mode)
	}
}

func TestAsk_RouteRAGHasNoFallback(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteRAG)}
	db := &mockQuery{result: okQuery()}
	rag := &mockRAG{result: retrieval.Result{OK: false, Notes: "No relevant context retrieved"}}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "cannot answer"}}

	p := New(router, db, rag, comp, nil)
	if _, err := p.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if db.calls != 0 {
		t.Errorf("db calls = %d, want 0; a failed rag route gets nothing extra", db.calls)
	}
	if comp.lastRAG == nil || comp.lastRAG.OK {
		t.Error("composer should see the failed retrieval as evidence")
	}
}

func TestAsk_RouteBoth(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteBoth)}
	db := &mockQuery{result: okQuery()}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "combined"}}

	p := New(router, db, rag, comp, nil)
	if _, err := p.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if db.calls != 1 || rag.calls != 1 {
		t.Errorf("calls db=%d rag=%d, want 1 each", db.calls, rag.calls)
	}
	if comp.lastDB == nil || comp.lastRAG == nil {
		t.Error("composer should see both legs")
	}
}

func TestAsk_RouteBothWithFailedDBRunsRAGOnce(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteBoth)}
	db := &mockQuery{result: dbquery.QueryResult{OK: false}}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "combined"}}

	p := New(router, db, rag, comp, nil)
	if _, err := p.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if rag.calls != 1 {
		t.Errorf("rag calls = %d, want exactly 1 on route both", rag.calls)
	}
}

func TestAsk_RouteGeneral(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteGeneral)}
	db := &mockQuery{result: okQuery()}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "Hello!", Citations: []string{}}}

	p := New(router, db, rag, comp, nil)
	resp, err := p.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if db.calls != 0 || rag.calls != 0 {
		t.Errorf("calls db=%d rag=%d, want 0 each", db.calls, rag.calls)
	}
	if comp.calls != 1 {
		t.Errorf("composer calls = %d, want 1; composition always runs", comp.calls)
	}
	if comp.lastDB != nil || comp.lastRAG != nil {
		t.Error("composer should see no evidence for general")
	}
	if resp.Mode != intent.RouteGeneral {
		t.Errorf("Mode = %q", resp.Mode)
	}
}

func TestAsk_RecordsRun(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteDB)}
	db := &mockQuery{result: okQuery()}
	rag := &mockRAG{result: okRAG()}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "a", QualityScore: 0.7, QualityReason: "ok"}}
	rec := &mockRecorder{}

	p := New(router, db, rag, comp, rec)
	if _, err := p.Ask(context.Background(), "how many rows?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(rec.runs))
	}
	run := rec.runs[0]
	if run.ID == "" {
		t.Error("run ID is empty")
	}
	if run.Question != "how many rows?" || run.Mode != intent.RouteDB || run.Answer != "a" {
		t.Errorf("run = %+v", run)
	}
	if run.QualityScore != 0.7 {
		t.Errorf("QualityScore = %f", run.QualityScore)
	}

	var debug map[string]any
	if err := json.Unmarshal([]byte(run.DebugJSON), &debug); err != nil {
		t.Fatalf("DebugJSON is not valid JSON: %v", err)
	}
	for _, key := range []string{"route", "db_out", "rag_out", "evidence"} {
		if _, present := debug[key]; !present {
			t.Errorf("DebugJSON missing %q", key)
		}
	}
}

func TestAsk_RecorderFailureDoesNotAbort(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteGeneral)}
	comp := &mockComposer{out: composer.FinalAnswer{Answer: "a"}}
	rec := &mockRecorder{err: errors.New("disk full")}

	p := New(router, &mockQuery{}, &mockRAG{}, comp, rec)
	resp, err := p.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != "a" {
		t.Errorf("Answer = %q", resp.Answer)
	}
}

func TestAsk_RouterErrorAborts(t *testing.T) {
	router := &mockRouter{err: errors.New("llm down")}
	comp := &mockComposer{}
	rec := &mockRecorder{}

	p := New(router, &mockQuery{}, &mockRAG{}, comp, rec)
	_, err := p.Ask(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if comp.calls != 0 {
		t.Error("composer should not run after a router failure")
	}
	if len(rec.runs) != 0 {
		t.Error("aborted runs must not be recorded")
	}
}

func TestAsk_QueryTransportErrorAborts(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteDB)}
	db := &mockQuery{err: errors.New("llm down")}
	comp := &mockComposer{}

	p := New(router, db, &mockRAG{}, comp, nil)
	if _, err := p.Ask(context.Background(), "q"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if comp.calls != 0 {
		t.Error("composer should not run after a transport failure")
	}
}

func TestAsk_ComposeErrorAborts(t *testing.T) {
	router := &mockRouter{decision: decision(intent.RouteGeneral)}
	comp := &mockComposer{err: errors.New("llm down")}
	rec := &mockRecorder{}

	p := New(router, &mockQuery{}, &mockRAG{}, comp, rec)
	_, err := p.Ask(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "llm down") {
		t.Errorf("unexpected error: %v", err)
	}
	if len(rec.runs) != 0 {
		t.Error("aborted runs must not be recorded")
	}
}
