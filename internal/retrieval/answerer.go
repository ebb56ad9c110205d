package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fraudqa/internal/llm"
)

const (
	// maxChunkChars caps each excerpt placed into the prompt context.
	maxChunkChars = 1200
	// chunkSeparator joins excerpts in the prompt context.
	chunkSeparator = "\n\n---\n\n"

	answerMaxTokens = 1500
	answerTimeout   = 120 * time.Second
)

// Chatter is the completion backend for the context-grounded answer call.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Result is the outcome of the retrieval branch. OK is false only when no
// relevant context was found; generation problems degrade to an empty Answer
// while keeping the context and citations usable downstream.
type Result struct {
	OK      bool     `json:"ok"`
	Context string   `json:"context"`
	Sources []string `json:"sources"`
	Answer  string   `json:"answer"`
	Notes   string   `json:"notes"`
	Raw     string   `json:"raw"`
}

// Answerer retrieves document context for a question and drafts an answer
// grounded strictly in that context.
type Answerer struct {
	llm       Chatter
	retriever *Retriever
	topK      int
}

// NewAnswerer creates an Answerer. topK <= 0 falls back to 5.
func NewAnswerer(llmClient Chatter, retriever *Retriever, topK int) *Answerer {
	if topK <= 0 {
		topK = 5
	}
	return &Answerer{llm: llmClient, retriever: retriever, topK: topK}
}

// Answer runs retrieval and, when context was found, a completion over it.
// Backend failures (embedding, store, completion transport) return an error;
// everything else is reported through Result.
func (a *Answerer) Answer(ctx context.Context, question string) (Result, error) {
	chunks, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		return Result{}, fmt.Errorf("retrieving context: %w", err)
	}
	if len(chunks) == 0 {
		return Result{
			OK:    false,
			Notes: "No relevant context retrieved",
		}, nil
	}

	excerpts := make([]string, len(chunks))
	for i, ch := range chunks {
		excerpts[i] = truncateChars(ch.Text, maxChunkChars)
	}
	contextText := strings.Join(excerpts, chunkSeparator)
	sources := FormatCitations(chunks)

	raw, err := a.llm.Complete(ctx, llm.Request{
		System:    answerSystem,
		User:      fmt.Sprintf("Question:\n%s\n\nContext:\n%s", question, contextText),
		MaxTokens: answerMaxTokens,
		Timeout:   answerTimeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("answering from context: %w", err)
	}

	// A malformed completion still counts as a successful retrieval: the
	// final composer can work from the context and citations alone.
	fields, _ := llm.ParseFields(raw)
	answer, _ := fields.String("answer")
	notes, _ := fields.String("notes")

	return Result{
		OK:      true,
		Context: contextText,
		Sources: sources,
		Answer:  answer,
		Notes:   notes,
		Raw:     raw,
	}, nil
}

// truncateChars limits s to n characters without splitting a UTF-8 sequence.
func truncateChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
