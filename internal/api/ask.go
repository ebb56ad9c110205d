package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fraudqa/internal/pipeline"
	"github.com/kalambet/fraudqa/internal/retrieval"
	"github.com/kalambet/fraudqa/internal/storage"
)

// Asker answers a free-form question end to end. *pipeline.Pipeline satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string) (pipeline.Response, error)
}

// Searcher runs semantic search over the document corpus. *retrieval.Retriever
// satisfies it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

type AskRequest struct {
	Question string `json:"question"`
}

type AppDeps struct {
	Store      *storage.Store
	Pipeline   Asker
	Searcher   Searcher
	Token      string
	HTTPClient *http.Client  // used to fetch url-kind ingest requests
	Vectors    VectorDeleter // optional; if nil, vector cleanup is skipped on delete
}

// NewAppHandler returns the management and question-answering API.
// Everything except /health requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ask", handleAsk(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleIngestDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		resp, err := deps.Pipeline.Ask(r.Context(), req.Question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "answering question: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)

		chunks, err := deps.Searcher.Retrieve(r.Context(), query, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if chunks == nil {
			chunks = []retrieval.ContextChunk{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chunks)
	}
}

// RunSummary is the list shape for /runs: everything but the debug payload.
type RunSummary struct {
	ID            string  `json:"id"`
	CreatedAt     string  `json:"created_at"`
	Question      string  `json:"question"`
	Route         string  `json:"route"`
	Mode          string  `json:"mode"`
	Answer        string  `json:"answer"`
	QualityScore  float64 `json:"quality_score"`
	QualityReason string  `json:"quality_reason"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// RunDetail adds the stored debug envelope for /runs/{id}.
type RunDetail struct {
	RunSummary
	Debug json.RawMessage `json:"debug"`
}

func runSummary(r storage.Run) RunSummary {
	return RunSummary{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		Question:      r.Question,
		Route:         r.Route,
		Mode:          r.Mode,
		Answer:        r.Answer,
		QualityScore:  r.QualityScore,
		QualityReason: r.QualityReason,
		ElapsedMs:     r.ElapsedMs,
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.GetRecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		summaries := make([]RunSummary, len(runs))
		for i, run := range runs {
			summaries[i] = runSummary(run)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summaries)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := deps.Store.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		detail := RunDetail{RunSummary: runSummary(run)}
		if json.Valid([]byte(run.DebugJSON)) {
			detail.Debug = json.RawMessage(run.DebugJSON)
		} else {
			detail.Debug = json.RawMessage("null")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(detail)
	}
}

// DocumentSummary is the list shape for /documents; content stays out of the
// response because corpus files run to megabytes.
type DocumentSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	CreatedAt string `json:"created_at"`
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		docs, err := deps.Store.ListDocuments(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		summaries := make([]DocumentSummary, len(docs))
		for i, d := range docs {
			summaries[i] = DocumentSummary{
				ID:        d.ID,
				Name:      d.Name,
				Source:    d.Source,
				Kind:      d.Kind,
				Pages:     d.Pages,
				Chunks:    d.Chunks,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summaries)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
