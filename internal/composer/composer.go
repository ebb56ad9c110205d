package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/fraudqa/internal/dbquery"
	"github.com/kalambet/fraudqa/internal/intent"
	"github.com/kalambet/fraudqa/internal/llm"
	"github.com/kalambet/fraudqa/internal/retrieval"
)

const (
	composeMaxTokens = 2500
	composeTimeout   = 180 * time.Second
)

const fallbackAnswer = "Sorry, I could not compose an answer from the available evidence."

// Chatter is the interface for chat completion.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Evidence is the blob serialized for the composing model. It is built
// once per run and not mutated afterwards.
type Evidence struct {
	Question        string       `json:"question"`
	Route           string       `json:"route"`
	RouteConfidence float64      `json:"route_confidence"`
	RouteReason     string       `json:"route_reason"`
	DB              *DBEvidence  `json:"db"`
	RAG             *RAGEvidence `json:"rag"`
}

// DBEvidence is the query leg's contribution to the evidence blob.
// SQL and Error render as JSON null when absent, not empty strings.
type DBEvidence struct {
	OK          bool             `json:"ok"`
	SQL         any              `json:"sql"`
	Notes       string           `json:"notes"`
	Error       any              `json:"error"`
	RowsPreview []map[string]any `json:"rows_preview"`
}

// RAGEvidence is the retrieval leg's contribution to the evidence blob.
type RAGEvidence struct {
	OK      bool     `json:"ok"`
	Notes   string   `json:"notes"`
	Sources []string `json:"sources"`
	Answer  any      `json:"draft_answer"`
	Context string   `json:"context"`
}

// FinalAnswer is the composed result for one question.
type FinalAnswer struct {
	Answer        string   `json:"answer"`
	Citations     []string `json:"citations"`
	Notes         string   `json:"notes"`
	QualityScore  float64  `json:"quality_score"`
	QualityReason string   `json:"quality_reason"`
	Raw           string   `json:"raw"`
	Evidence      Evidence `json:"evidence"`
}

// Composer merges the route decision and branch evidence into a final
// answer with a self-reported quality score.
type Composer struct {
	llm Chatter
}

// NewComposer creates a Composer backed by the given chat client.
func NewComposer(llmClient Chatter) *Composer {
	return &Composer{llm: llmClient}
}

// Compose asks the model for a final answer grounded only in the given
// evidence. A malformed completion degrades to a fixed apology answer
// with a zero score; only the LLM transport fails hard.
func (c *Composer) Compose(ctx context.Context, question string, route intent.Decision, db *dbquery.QueryResult, rag *retrieval.Result) (FinalAnswer, error) {
	evidence := Evidence{
		Question:        question,
		Route:           route.Route,
		RouteConfidence: route.Confidence,
		RouteReason:     route.Reason,
	}
	if db != nil {
		evidence.DB = &DBEvidence{
			OK:          db.OK,
			SQL:         nullable(db.SQL),
			Notes:       db.Notes,
			Error:       nullable(db.Error),
			RowsPreview: db.RowsPreview,
		}
	}
	if rag != nil {
		evidence.RAG = &RAGEvidence{
			OK:      rag.OK,
			Notes:   rag.Notes,
			Sources: rag.Sources,
			Answer:  nullable(rag.Answer),
			Context: rag.Context,
		}
	}

	payload, err := json.Marshal(evidence)
	if err != nil {
		return FinalAnswer{}, fmt.Errorf("encoding evidence: %w", err)
	}

	raw, err := c.llm.Complete(ctx, llm.Request{
		System:    finalSystem,
		User:      string(payload),
		MaxTokens: composeMaxTokens,
		Timeout:   composeTimeout,
	})
	if err != nil {
		return FinalAnswer{}, fmt.Errorf("composing answer: %w", err)
	}

	fields, _ := llm.ParseFields(raw)

	answer, _ := fields.String("answer")
	if answer == "" {
		answer = fallbackAnswer
	}
	notes, _ := fields.String("notes")
	reason, _ := fields.String("quality_reason")

	citations := fields.Strings("citations")
	// The model sometimes forgets citations it was given; reattach the
	// retrieval sources rather than losing provenance. Never merge into
	// a non-empty list and never invent new entries.
	if len(citations) == 0 && rag != nil && len(rag.Sources) > 0 {
		citations = rag.Sources
	}
	if route.Route == intent.RouteGeneral {
		citations = nil
	}
	if citations == nil {
		citations = []string{}
	}

	return FinalAnswer{
		Answer:        answer,
		Citations:     citations,
		Notes:         notes,
		QualityScore:  clamp01(fields.Number("quality_score")),
		QualityReason: reason,
		Raw:           raw,
		Evidence:      evidence,
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
