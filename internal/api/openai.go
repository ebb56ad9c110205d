package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type chatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// NewOpenAIHandler returns an OpenAI-compatible facade over the question
// pipeline, meant to be mounted under /v1. Chat clients send a conversation;
// the last user message becomes the question and the pipeline's answer comes
// back as the assistant turn.
func NewOpenAIHandler(deps AppDeps, model string) http.Handler {
	r := chi.NewRouter()

	r.Get("/models", handleModels(model))
	r.Post("/chat/completions", handleChatCompletions(deps, model))

	return r
}

func handleModels(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ModelList{
			Object: "list",
			Data: []Model{
				{ID: model, Object: "model", Created: time.Now().Unix(), OwnedBy: "fraudqa"},
			},
		})
	}
}

func handleChatCompletions(deps AppDeps, model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		question := lastUserMessage(req.Messages)
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages must contain at least one user message")
			return
		}

		resp, err := deps.Pipeline.Ask(r.Context(), question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "answering question: %v", err)
			return
		}

		content := resp.Answer
		if len(resp.Citations) > 0 {
			content += "\n\nSources: " + strings.Join(resp.Citations, "; ")
		}

		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()

		if req.Stream {
			streamCompletion(w, id, created, model, content)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   model,
			Choices: []chatChoice{
				{Index: 0, Message: ChatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
			},
		})
	}
}

// streamCompletion emits the whole answer as a single SSE chunk followed by a
// stop chunk. The pipeline is not incremental, but streaming clients still get
// a well-formed event sequence.
func streamCompletion(w http.ResponseWriter, id string, created int64, model, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeChunk := func(c chatChunk) {
		data, err := json.Marshal(c)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	writeChunk(chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chunkChoice{{Index: 0, Delta: ChatMessage{Role: "assistant", Content: content}}},
	})

	stop := "stop"
	writeChunk(chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chunkChoice{{Index: 0, FinishReason: &stop}},
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
