package retrieval

import (
	"context"
	"time"
)

// ContextChunk is a retrieved document fragment with its similarity score.
type ContextChunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Page      int       `json:"page"` // 1-based, 0 when the document has no pages
	Text      string    `json:"text"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Retriever combines embedding and vector search to find relevant document
// context for a question.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K most similar context chunks.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:        s.ID,
			Source:    s.Source,
			Page:      s.Page,
			Text:      s.TextChunk,
			Score:     s.Score,
			CreatedAt: s.CreatedAt,
		}
	}
	return chunks
}
