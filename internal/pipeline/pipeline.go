package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fraudqa/internal/composer"
	"github.com/kalambet/fraudqa/internal/dbquery"
	"github.com/kalambet/fraudqa/internal/intent"
	"github.com/kalambet/fraudqa/internal/retrieval"
	"github.com/kalambet/fraudqa/internal/storage"
)

// RouteDecider picks the pipeline leg for a question.
type RouteDecider interface {
	Route(ctx context.Context, question string) (intent.Decision, error)
}

// QueryAnswerer runs the NL-to-SQL leg.
type QueryAnswerer interface {
	Answer(ctx context.Context, question string) (dbquery.QueryResult, error)
}

// ContextAnswerer runs the document retrieval leg.
type ContextAnswerer interface {
	Answer(ctx context.Context, question string) (retrieval.Result, error)
}

// AnswerComposer merges the route decision and branch evidence.
type AnswerComposer interface {
	Compose(ctx context.Context, question string, route intent.Decision, db *dbquery.QueryResult, rag *retrieval.Result) (composer.FinalAnswer, error)
}

// RunRecorder persists completed runs for later inspection.
type RunRecorder interface {
	SaveRun(r storage.Run) error
}

// Response is the envelope returned for one question.
type Response struct {
	Answer        string   `json:"answer"`
	Citations     []string `json:"citations"`
	Mode          string   `json:"mode"`
	ElapsedMs     float64  `json:"elapsed_ms"`
	QualityScore  float64  `json:"quality_score"`
	QualityReason string   `json:"quality_reason"`
	Debug         Debug    `json:"debug"`
}

// Debug is the full per-phase trace carried in the envelope.
type Debug struct {
	Route      intent.Decision      `json:"route"`
	DBOut      *dbquery.QueryResult `json:"db_out"`
	RAGOut     *retrieval.Result    `json:"rag_out"`
	FinalNotes string               `json:"final_notes"`
	FinalRaw   string               `json:"final_raw"`
	Evidence   composer.Evidence    `json:"evidence"`
}

// Pipeline sequences routing, the evidence legs, and composition for
// each incoming question. Runs are independent and share no state, so
// a single Pipeline is safe for concurrent use.
type Pipeline struct {
	router   RouteDecider
	db       QueryAnswerer
	rag      ContextAnswerer
	composer AnswerComposer
	runs     RunRecorder
}

// New creates a Pipeline. runs may be nil to disable persistence.
func New(router RouteDecider, db QueryAnswerer, rag ContextAnswerer, comp AnswerComposer, runs RunRecorder) *Pipeline {
	return &Pipeline{router: router, db: db, rag: rag, composer: comp, runs: runs}
}

// Ask runs the full pipeline for one question. A leg that fails
// produces not-ok evidence and the run still ends in a composed
// answer; only transport errors abort the run.
//
// Fallback is one-directional: a "db" route whose query leg comes back
// not-ok gets a retrieval attempt as well, while a failed "rag" route
// gets nothing extra. "both" always runs both legs, "general" runs
// neither.
func (p *Pipeline) Ask(ctx context.Context, question string) (Response, error) {
	start := time.Now()

	route, err := p.router.Route(ctx, question)
	if err != nil {
		return Response{}, err
	}

	var dbOut *dbquery.QueryResult
	var ragOut *retrieval.Result

	if route.Route == intent.RouteDB || route.Route == intent.RouteBoth {
		out, err := p.db.Answer(ctx, question)
		if err != nil {
			return Response{}, err
		}
		dbOut = &out

		if route.Route == intent.RouteDB && !out.OK {
			fallback, err := p.rag.Answer(ctx, question)
			if err != nil {
				return Response{}, err
			}
			ragOut = &fallback
		}
	}

	if route.Route == intent.RouteRAG || route.Route == intent.RouteBoth {
		out, err := p.rag.Answer(ctx, question)
		if err != nil {
			return Response{}, err
		}
		ragOut = &out
	}

	final, err := p.composer.Compose(ctx, question, route, dbOut, ragOut)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		Answer:        final.Answer,
		Citations:     final.Citations,
		Mode:          route.Route,
		ElapsedMs:     float64(time.Since(start).Microseconds()) / 1000.0,
		QualityScore:  final.QualityScore,
		QualityReason: final.QualityReason,
		Debug: Debug{
			Route:      route,
			DBOut:      dbOut,
			RAGOut:     ragOut,
			FinalNotes: final.Notes,
			FinalRaw:   final.Raw,
			Evidence:   final.Evidence,
		},
	}

	p.record(question, resp)
	return resp, nil
}

// record persists the run. Failures are logged, never surfaced.
func (p *Pipeline) record(question string, resp Response) {
	if p.runs == nil {
		return
	}

	debugJSON, err := json.Marshal(resp.Debug)
	if err != nil {
		slog.Warn("encoding run debug trace", "error", err)
		debugJSON = []byte("{}")
	}

	run := storage.Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Question:      question,
		Route:         resp.Debug.Route.Route,
		Mode:          resp.Mode,
		Answer:        resp.Answer,
		QualityScore:  resp.QualityScore,
		QualityReason: resp.QualityReason,
		ElapsedMs:     int64(resp.ElapsedMs),
		DebugJSON:     string(debugJSON),
	}
	if err := p.runs.SaveRun(run); err != nil {
		slog.Warn("saving run", "error", err)
	}
}
