package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document kinds.
const (
	KindPDF      = "pdf"
	KindMarkdown = "markdown"
	KindText     = "text"
	KindHTML     = "html"
)

// Document is one ingested knowledge-base document. Content holds the
// extracted plain text; the embedded chunks live in chunk_vectors.
type Document struct {
	ID        string
	Name      string
	Source    string
	Kind      string
	Content   string
	Pages     int
	Chunks    int
	CreatedAt time.Time
}

// Run is one completed question-answering pipeline execution.
type Run struct {
	ID            string
	CreatedAt     time.Time
	Question      string
	Route         string
	Mode          string
	Answer        string
	QualityScore  float64
	QualityReason string
	ElapsedMs     int64
	DebugJSON     string // full debug trace stored as JSON text
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
