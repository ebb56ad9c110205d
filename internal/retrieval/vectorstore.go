package retrieval

import "time"

// VectorStore is the interface for vector storage and similarity search
// backends. The persistent implementation uses SQLite with brute-force cosine
// similarity; HNSWStore layers an in-memory ANN graph on top of it.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(records []Record) error

	// Search returns the top-K records most similar to the query vector,
	// ordered by descending cosine similarity.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByDocument removes every record belonging to a document.
	DeleteByDocument(documentID string) error

	// ExportAll returns every stored record in insertion order. Used to
	// rebuild derived indexes at startup.
	ExportAll() ([]Record, error)

	// Count returns the number of stored records.
	Count() (int, error)
}

// Record is one embedded text chunk in the vector store.
type Record struct {
	ID         string
	DocumentID string
	Source     string // display name used in citations
	Page       int    // 1-based page for paged documents, 0 otherwise
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
