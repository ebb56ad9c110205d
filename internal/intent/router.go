package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fraudqa/internal/llm"
)

const (
	routeMaxTokens = 140
	routeTimeout   = 60 * time.Second
)

// Route names for the pipeline legs a question can be sent to.
const (
	RouteDB      = "db"
	RouteRAG     = "rag"
	RouteBoth    = "both"
	RouteGeneral = "general"
)

// Chatter is the interface for chat completion.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Decision is the routing verdict for one question.
type Decision struct {
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Raw        string  `json:"raw"`
}

// Router classifies questions into pipeline routes using a small LLM call.
type Router struct {
	llm Chatter
}

// NewRouter creates a Router backed by the given chat client.
func NewRouter(llmClient Chatter) *Router {
	return &Router{llm: llmClient}
}

// Route decides which leg of the pipeline should handle the question.
// A completion that is not valid JSON, or names an unknown route, falls
// back to "both" rather than failing; only transport errors are returned.
func (r *Router) Route(ctx context.Context, question string) (Decision, error) {
	raw, err := r.llm.Complete(ctx, llm.Request{
		System:    routerSystem,
		User:      question,
		MaxTokens: routeMaxTokens,
		Timeout:   routeTimeout,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("routing question: %w", err)
	}

	fields, ok := llm.ParseFields(raw)
	if !ok {
		slog.Warn("router returned non-JSON output", "raw", raw)
	}

	d := Decision{
		Route:      RouteBoth,
		Confidence: fields.Number("confidence"),
		Reason:     "fallback",
		Raw:        raw,
	}
	if route, present := fields.String("route"); present && validRoute(route) {
		d.Route = route
	}
	if reason, present := fields.String("reason"); present {
		d.Reason = reason
	}
	return d, nil
}

func validRoute(route string) bool {
	switch route {
	case RouteDB, RouteRAG, RouteBoth, RouteGeneral:
		return true
	}
	return false
}
