package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

const testModel = "openai/gpt-oss-20b"

// newOpenAITestRouter mounts the facade the way the server does, so tests
// exercise the real /v1 paths.
func newOpenAITestRouter(asker *mockAsker) http.Handler {
	r := chi.NewRouter()
	r.Mount("/v1", NewOpenAIHandler(AppDeps{Pipeline: asker}, testModel))
	return r
}

func TestModels(t *testing.T) {
	h := newOpenAITestRouter(&mockAsker{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var list ModelList
	json.NewDecoder(rr.Body).Decode(&list)
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("list = %+v, want one model", list)
	}
	if list.Data[0].ID != testModel {
		t.Errorf("models[0].ID = %q, want %q", list.Data[0].ID, testModel)
	}
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	asker := &mockAsker{resp: answeredResponse()}
	h := newOpenAITestRouter(asker)

	body := `{"model":"test","messages":[{"role":"system","content":"be helpful"},{"role":"user","content":"how common is fraud?"}]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if asker.lastQuestion != "how common is fraud?" {
		t.Errorf("pipeline got question %q", asker.lastQuestion)
	}

	var completion chatCompletion
	if err := json.NewDecoder(rr.Body).Decode(&completion); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if completion.Object != "chat.completion" || len(completion.Choices) != 1 {
		t.Fatalf("completion = %+v", completion)
	}
	choice := completion.Choices[0]
	if choice.Message.Role != "assistant" || choice.FinishReason != "stop" {
		t.Errorf("choice = %+v", choice)
	}
	if !strings.Contains(choice.Message.Content, "0.58%") {
		t.Errorf("content = %q, want the answer", choice.Message.Content)
	}
	if !strings.Contains(choice.Message.Content, "Sources: fraud_survey.pdf p.3") {
		t.Errorf("content = %q, want appended sources", choice.Message.Content)
	}
}

func TestChatCompletions_LastUserMessageWins(t *testing.T) {
	asker := &mockAsker{resp: answeredResponse()}
	h := newOpenAITestRouter(asker)

	body := `{"messages":[
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"some answer"},
		{"role":"user","content":"second question"}
	]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if asker.lastQuestion != "second question" {
		t.Errorf("pipeline got question %q, want the last user message", asker.lastQuestion)
	}
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	h := newOpenAITestRouter(&mockAsker{})

	for _, body := range []string{
		`{"model":"test","messages":[]}`,
		`{"model":"test"}`,
		`{"messages":[{"role":"assistant","content":"hi"}]}`,
	} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestChatCompletions_InvalidBody(t *testing.T) {
	h := newOpenAITestRouter(&mockAsker{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{invalid"))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_PipelineError(t *testing.T) {
	asker := &mockAsker{err: errors.New("routing question: connection refused")}
	h := newOpenAITestRouter(asker)

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	asker := &mockAsker{resp: answeredResponse()}
	h := newOpenAITestRouter(asker)

	body := `{"messages":[{"role":"user","content":"how common is fraud?"}],"stream":true}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	got := rr.Body.String()
	if !strings.Contains(got, "chat.completion.chunk") {
		t.Errorf("body missing chunk object: %q", got)
	}
	if !strings.Contains(got, "0.58%") {
		t.Errorf("body missing answer content: %q", got)
	}
	if !strings.Contains(got, `"finish_reason":"stop"`) {
		t.Errorf("body missing stop chunk: %q", got)
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "data: [DONE]") {
		t.Errorf("body does not end with DONE: %q", got)
	}
}
