package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	searchFn func(vector []float32, topK int) ([]ScoredRecord, error)
}

func (m *mockVectorStore) Insert(records []Record) error { return nil }

func (m *mockVectorStore) Search(vector []float32, topK int) ([]ScoredRecord, error) {
	return m.searchFn(vector, topK)
}

func (m *mockVectorStore) ExportAll() ([]Record, error) { return nil, nil }

func (m *mockVectorStore) Count() (int, error) { return 0, nil }

func (m *mockVectorStore) DeleteByDocument(documentID string) error { return nil }

func TestRetrieve_MapsFields(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &mockVectorStore{
		searchFn: func(_ []float32, topK int) ([]ScoredRecord, error) {
			if topK != 5 {
				t.Errorf("topK = %d, want 5", topK)
			}
			return []ScoredRecord{
				{
					Record: Record{
						ID:         "c1",
						DocumentID: "d1",
						Source:     "fraud_survey.pdf",
						Page:       3,
						TextChunk:  "card-present fraud declined",
						CreatedAt:  created,
					},
					Score: 0.93,
				},
			}, nil
		},
	}
	embed := &mockEmbedClient{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text != "fraud trends" {
				t.Errorf("embedded %q, want the query text", text)
			}
			return makeVector(384), nil
		},
	}

	r := NewRetriever(NewEmbedder(embed, "nomic-embed-text"), store)
	chunks, err := r.Retrieve(context.Background(), "fraud trends", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.ID != "c1" || ch.Source != "fraud_survey.pdf" || ch.Page != 3 {
		t.Errorf("unexpected chunk identity: %+v", ch)
	}
	if ch.Text != "card-present fraud declined" {
		t.Errorf("Text = %q", ch.Text)
	}
	if ch.Score != 0.93 {
		t.Errorf("Score = %f, want 0.93", ch.Score)
	}
	if !ch.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", ch.CreatedAt, created)
	}
}

func TestRetrieve_EmbedError(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ []float32, _ int) ([]ScoredRecord, error) {
			t.Fatal("search should not run when embedding fails")
			return nil, nil
		},
	}
	embed := &mockEmbedClient{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("model not loaded")
		},
	}

	r := NewRetriever(NewEmbedder(embed, "nomic-embed-text"), store)
	if _, err := r.Retrieve(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRetrieve_SearchError(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ []float32, _ int) ([]ScoredRecord, error) {
			return nil, errors.New("corrupt blob")
		},
	}
	embed := &mockEmbedClient{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}

	r := NewRetriever(NewEmbedder(embed, "nomic-embed-text"), store)
	if _, err := r.Retrieve(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRetrieve_NoHits(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(_ []float32, _ int) ([]ScoredRecord, error) {
			return nil, nil
		},
	}
	embed := &mockEmbedClient{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}

	r := NewRetriever(NewEmbedder(embed, "nomic-embed-text"), store)
	chunks, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}
