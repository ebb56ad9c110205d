package retrieval

import (
	"fmt"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	kvector "github.com/kshard/vector"
)

// Compile-time check that HNSWStore implements VectorStore.
var _ VectorStore = (*HNSWStore)(nil)

// HNSWStore layers an in-memory approximate-nearest-neighbor graph over a
// persistent VectorStore. The inner store stays the source of truth: inserts
// go to it first, and the graph is rebuilt from it on startup, so the graph
// never needs its own persistence. Graph keys are insertion indexes into the
// records slice.
type HNSWStore struct {
	inner VectorStore

	mu      sync.RWMutex
	index   *hnsw.HNSW[vector.VF32]
	records []Record
	deleted map[uint32]bool
}

// NewHNSWStore builds the graph from every record already in inner and
// returns the layered store.
func NewHNSWStore(inner VectorStore) (*HNSWStore, error) {
	s := &HNSWStore{
		inner:   inner,
		index:   hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine())),
		deleted: make(map[uint32]bool),
	}

	records, err := inner.ExportAll()
	if err != nil {
		return nil, fmt.Errorf("loading vectors: %w", err)
	}
	for _, r := range records {
		if err := s.add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// add appends a record to the graph. Callers must hold mu.
func (s *HNSWStore) add(r Record) error {
	if s.index.Size() > 0 {
		dim := len(s.index.Head().Vec)
		if len(r.Embedding) != dim {
			return fmt.Errorf("vector dimension mismatch for %s: expected %d, got %d", r.ID, dim, len(r.Embedding))
		}
	}
	s.index.Insert(vector.VF32{
		Key: uint32(len(s.records)),
		Vec: r.Embedding,
	})
	s.records = append(s.records, r)
	return nil
}

// Insert persists records through the inner store and adds them to the graph.
func (s *HNSWStore) Insert(records []Record) error {
	if err := s.inner.Insert(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if err := s.add(r); err != nil {
			return err
		}
	}
	return nil
}

// Search walks the graph for the top-K nearest records. Similarity scores are
// recomputed as exact cosine over the candidates, so results rank the same
// way the brute-force store ranks them.
func (s *HNSWStore) Search(vec []float32, topK int) ([]ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(s.records) == 0 {
		return nil, nil
	}

	dim := len(s.index.Head().Vec)
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}

	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Tombstoned nodes stay in the graph until the next startup rebuild, so
	// over-fetch by their count and filter.
	want := topK + len(s.deleted)
	ef := want * 2
	if ef < 100 {
		ef = 100
	}

	neighbors := s.index.Search(vector.VF32{Vec: vec}, want, ef)

	results := make([]ScoredRecord, 0, len(neighbors))
	for _, n := range neighbors {
		if s.deleted[n.Key] {
			continue
		}
		r := s.records[n.Key]
		results = append(results, ScoredRecord{
			Record: r,
			Score:  dotProduct(vec, r.Embedding, queryNorm),
		})
	}
	sortByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes a document's vectors from the inner store and
// tombstones the matching graph nodes. The graph itself does not support
// removal; tombstoned nodes are skipped at search time and disappear when the
// graph is rebuilt on the next startup.
func (s *HNSWStore) DeleteByDocument(documentID string) error {
	if err := s.inner.DeleteByDocument(documentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.DocumentID == documentID {
			s.deleted[uint32(i)] = true
		}
	}
	return nil
}

// ExportAll returns all records from the inner store.
func (s *HNSWStore) ExportAll() ([]Record, error) {
	return s.inner.ExportAll()
}

// Count returns the number of records in the inner store.
func (s *HNSWStore) Count() (int, error) {
	return s.inner.Count()
}
