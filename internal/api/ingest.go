package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/fraudqa/internal/ingest"
	"github.com/kalambet/fraudqa/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB

// IngestRequest registers one reference document for chunking and embedding.
// Kind selects how the payload is interpreted: "text" and "markdown" take
// Content verbatim, "html" strips markup from Content, "url" fetches URL and
// strips markup, "file" decodes base64 Content and infers the format from
// Name's extension.
type IngestRequest struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// VectorDeleter abstracts vector cleanup for the API layer.
type VectorDeleter interface {
	DeleteByDocument(documentID string) error
}

func handleIngestDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Kind == "" {
			if req.URL != "" {
				req.Kind = "url"
			} else {
				req.Kind = "text"
			}
		}
		if req.Kind != "url" && req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		docID := uuid.New().String()

		var content, kind, source string
		switch req.Kind {
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for kind url")
				return
			}
			body, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				var reqErr *urlRequestError
				if errors.As(err, &reqErr) {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				} else {
					httpError(w, http.StatusBadGateway, "api_error", "%v", err)
				}
				return
			}
			content, err = ingest.ExtractHTMLText(strings.NewReader(body))
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "parsing fetched page: %v", err)
				return
			}
			kind = storage.KindHTML
			source = req.URL
			if req.Name == "" {
				req.Name = req.URL
			}

		case "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			// PDF extraction reads from disk; PDFs come in through the
			// corpus directory instead.
			if strings.EqualFold(path.Ext(req.Name), ".pdf") {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "pdf documents are ingested from the corpus directory")
				return
			}
			kind = kindForName(req.Name)
			if kind == storage.KindHTML {
				content, err = ingest.ExtractHTMLText(strings.NewReader(string(decoded)))
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing html content: %v", err)
					return
				}
			} else {
				content = string(decoded)
			}
			source = "api:" + docID

		case "html":
			var err error
			content, err = ingest.ExtractHTMLText(strings.NewReader(req.Content))
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing html content: %v", err)
				return
			}
			kind = storage.KindHTML
			source = "api:" + docID

		case "markdown":
			content = req.Content
			kind = storage.KindMarkdown
			source = "api:" + docID

		case "text":
			content = req.Content
			kind = storage.KindText
			source = "api:" + docID

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported kind %q", req.Kind)
			return
		}

		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document has no extractable text")
			return
		}

		// URL sources are the dedupe key: re-posting a fetched page returns
		// the document that already holds it.
		if existing, err := deps.Store.GetDocumentBySource(source); err == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"id":     existing.ID,
				"status": "exists",
			})
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "checking for existing document: %v", err)
			return
		}

		doc := storage.Document{
			ID:        docID,
			Name:      req.Name,
			Source:    source,
			Kind:      kind,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		payload, err := json.Marshal(map[string]string{"document_id": docID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeDocumentEmbed,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     docID,
			"status": "queued",
		})
	}
}

// urlRequestError marks fetch failures caused by the request itself rather
// than the remote server.
type urlRequestError struct{ err error }

func (e *urlRequestError) Error() string { return e.err.Error() }
func (e *urlRequestError) Unwrap() error { return e.err }

func fetchURL(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &urlRequestError{fmt.Errorf("invalid url: %w", err)}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", fmt.Errorf("failed to read url response: %w", err)
	}
	return string(body), nil
}

func kindForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".md":
		return storage.KindMarkdown
	case ".html", ".htm":
		return storage.KindHTML
	default:
		return storage.KindText
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		// Vector cleanup first: deleting vectors for an unknown document is a
		// no-op, so the not-found check on the row below stays authoritative.
		if deps.Vectors != nil {
			if err := deps.Vectors.DeleteByDocument(id); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete vectors: %v", err)
				return
			}
		}

		err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}
