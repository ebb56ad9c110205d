package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/fraudqa/internal/pipeline"
	"github.com/kalambet/fraudqa/internal/retrieval"
	"github.com/kalambet/fraudqa/internal/storage"
)

const testToken = "test-token-12345"

type mockAsker struct {
	mu           sync.Mutex
	lastQuestion string
	resp         pipeline.Response
	err          error
}

func (m *mockAsker) Ask(_ context.Context, question string) (pipeline.Response, error) {
	m.mu.Lock()
	m.lastQuestion = question
	m.mu.Unlock()
	return m.resp, m.err
}

type mockSearcher struct {
	mu        sync.Mutex
	lastQuery string
	lastTopK  int
	chunks    []retrieval.ContextChunk
	err       error
}

func (m *mockSearcher) Retrieve(_ context.Context, query string, topK int) ([]retrieval.ContextChunk, error) {
	m.mu.Lock()
	m.lastQuery = query
	m.lastTopK = topK
	m.mu.Unlock()
	return m.chunks, m.err
}

func answeredResponse() pipeline.Response {
	return pipeline.Response{
		Answer:        "About 0.58% of transactions are fraudulent.",
		Citations:     []string{"fraud_survey.pdf p.3"},
		Mode:          "both",
		ElapsedMs:     1234.5,
		QualityScore:  0.9,
		QualityReason: "grounded in both sources",
	}
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store, *mockAsker, *mockSearcher) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	asker := &mockAsker{resp: answeredResponse()}
	searcher := &mockSearcher{}
	handler := NewAppHandler(AppDeps{
		Store:    store,
		Pipeline: asker,
		Searcher: searcher,
		Token:    token,
	})
	return handler, store, asker, searcher
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/health", "", "")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAsk_ReturnsEnvelope(t *testing.T) {
	h, _, asker, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", `{"question":"how common is fraud?"}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if asker.lastQuestion != "how common is fraud?" {
		t.Errorf("pipeline got question %q", asker.lastQuestion)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["answer"] != "About 0.58% of transactions are fraudulent." {
		t.Errorf("answer = %v", resp["answer"])
	}
	if resp["mode"] != "both" {
		t.Errorf("mode = %v, want both", resp["mode"])
	}
	if resp["quality_score"] != 0.9 {
		t.Errorf("quality_score = %v, want 0.9", resp["quality_score"])
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", `{"question":"   "}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsk_InvalidBody(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", "{invalid", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsk_NoAuth(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", `{"question":"hi"}`, "")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAsk_WrongToken(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", `{"question":"hi"}`, "not-the-token")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAsk_PipelineError(t *testing.T) {
	h, _, asker, _ := setupAppHandler(t, testToken)
	asker.err = errors.New("completion request: connection refused")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/ask", `{"question":"hi"}`, testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Errorf("body = %s, want upstream error message", rr.Body.String())
	}
}

func TestSearch_ReturnsChunks(t *testing.T) {
	h, _, _, searcher := setupAppHandler(t, testToken)
	searcher.chunks = []retrieval.ContextChunk{
		{ID: "c1", Source: "fraud_survey.pdf", Page: 3, Text: "skimming details", Score: 0.92},
		{ID: "c2", Source: "notes.md", Text: "chargeback notes", Score: 0.81},
	}

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/search?q=skimming&limit=2", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if searcher.lastQuery != "skimming" || searcher.lastTopK != 2 {
		t.Errorf("searcher got (%q, %d), want (skimming, 2)", searcher.lastQuery, searcher.lastTopK)
	}

	var chunks []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&chunks); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0]["source"] != "fraud_survey.pdf" || chunks[0]["page"] != 3.0 {
		t.Errorf("chunk[0] = %v", chunks[0])
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/search", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/search?q=nothing", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func saveTestRun(t *testing.T, store *storage.Store, id string, createdAt time.Time, debugJSON string) {
	t.Helper()
	err := store.SaveRun(storage.Run{
		ID:            id,
		CreatedAt:     createdAt,
		Question:      "how common is fraud?",
		Route:         "both",
		Mode:          "both",
		Answer:        "Rare overall.",
		QualityScore:  0.8,
		QualityReason: "ok",
		ElapsedMs:     1500,
		DebugJSON:     debugJSON,
	})
	if err != nil {
		t.Fatalf("SaveRun(%s): %v", id, err)
	}
}

func TestListRuns(t *testing.T) {
	h, store, _, _ := setupAppHandler(t, testToken)
	now := time.Now().UTC()
	saveTestRun(t, store, "run-1", now.Add(-time.Minute), "{}")
	saveTestRun(t, store, "run-2", now, "{}")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/runs", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var runs []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if runs[0]["id"] != "run-2" {
		t.Errorf("runs[0].id = %v, want run-2", runs[0]["id"])
	}
	if _, hasDebug := runs[0]["debug"]; hasDebug {
		t.Error("list entries must not carry the debug payload")
	}
}

func TestListRuns_Empty(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/runs", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestGetRun(t *testing.T) {
	h, store, _, _ := setupAppHandler(t, testToken)
	saveTestRun(t, store, "run-d", time.Now().UTC(), `{"route":{"route":"db"}}`)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/runs/run-d", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var detail map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	debug, ok := detail["debug"].(map[string]any)
	if !ok {
		t.Fatalf("debug = %v (%T), want object", detail["debug"], detail["debug"])
	}
	route, ok := debug["route"].(map[string]any)
	if !ok || route["route"] != "db" {
		t.Errorf("debug.route = %v", debug["route"])
	}
}

func TestGetRun_NotFound(t *testing.T) {
	h, _, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/runs/nonexistent", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestListDocuments(t *testing.T) {
	h, store, _, _ := setupAppHandler(t, testToken)
	for i := 0; i < 3; i++ {
		doc := storage.Document{
			ID:        fmt.Sprintf("doc-%d", i),
			Name:      fmt.Sprintf("doc-%d.md", i),
			Source:    fmt.Sprintf("/corpus/doc-%d.md", i),
			Kind:      storage.KindMarkdown,
			Content:   "long corpus text that must not appear in the listing",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveDocument(doc); err != nil {
			t.Fatalf("SaveDocument(%d): %v", i, err)
		}
	}

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/documents?limit=2", "", testToken)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var docs []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&docs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if _, hasContent := docs[0]["content"]; hasContent {
		t.Error("document listing must not include content")
	}
	if docs[0]["kind"] != storage.KindMarkdown {
		t.Errorf("kind = %v, want %q", docs[0]["kind"], storage.KindMarkdown)
	}
}
