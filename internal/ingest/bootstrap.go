package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fraudqa/internal/storage"
)

var corpusKinds = map[string]string{
	".pdf":  storage.KindPDF,
	".md":   storage.KindMarkdown,
	".txt":  storage.KindText,
	".html": storage.KindHTML,
	".htm":  storage.KindHTML,
}

// Bootstrap makes the store ready to answer questions: it loads the
// transactions CSV when the table is empty and registers every new
// corpus document, queueing one embed job per document. Idempotent;
// safe to run on every startup.
func Bootstrap(ctx context.Context, store *storage.Store, csvPath, corpusDir string) error {
	if err := bootstrapTransactions(ctx, store, csvPath); err != nil {
		return err
	}
	return bootstrapCorpus(ctx, store, corpusDir)
}

func bootstrapTransactions(ctx context.Context, store *storage.Store, csvPath string) error {
	if csvPath == "" {
		return nil
	}

	n, err := store.CountTransactions()
	if err != nil {
		return fmt.Errorf("counting transactions: %w", err)
	}
	if n > 0 {
		slog.Info("transactions table already populated", "rows", n)
		return nil
	}

	if _, err := os.Stat(csvPath); err != nil {
		return fmt.Errorf("transactions csv: %w", err)
	}

	start := time.Now()
	slog.Info("loading transactions csv", "path", csvPath)
	total, err := store.LoadTransactionsCSV(ctx, csvPath, func(total int) {
		slog.Info("transactions load progress", "rows", total)
	})
	if err != nil {
		return fmt.Errorf("loading transactions: %w", err)
	}
	slog.Info("transactions loaded", "rows", total, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func bootstrapCorpus(ctx context.Context, store *storage.Store, dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("corpus dir: %w", err)
	}

	queued := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		kind, known := corpusKinds[strings.ToLower(filepath.Ext(path))]
		if !known {
			return nil
		}

		if _, err := store.GetDocumentBySource(path); err == nil {
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("looking up document %s: %w", path, err)
		}

		doc, err := buildDocument(path, kind)
		if err != nil {
			slog.Warn("skipping unreadable document", "path", path, "error", err)
			return nil
		}
		if err := store.SaveDocument(doc); err != nil {
			return fmt.Errorf("saving document %s: %w", path, err)
		}
		if err := enqueueEmbedJob(store, doc.ID); err != nil {
			return fmt.Errorf("queueing embed job for %s: %w", path, err)
		}

		queued++
		slog.Info("queued document for embedding", "name", doc.Name, "kind", doc.Kind, "pages", doc.Pages)
		return nil
	})
	if err != nil {
		return err
	}

	if queued > 0 {
		slog.Info("corpus bootstrap queued documents", "count", queued)
	}
	return nil
}

func buildDocument(path, kind string) (storage.Document, error) {
	var content string
	var pages int

	switch kind {
	case storage.KindPDF:
		pageTexts, err := ExtractPDFPages(path)
		if err != nil {
			return storage.Document{}, err
		}
		content = strings.Join(pageTexts, pageSeparator)
		pages = len(pageTexts)
	case storage.KindHTML:
		f, err := os.Open(path)
		if err != nil {
			return storage.Document{}, err
		}
		defer f.Close()
		text, err := ExtractHTMLText(f)
		if err != nil {
			return storage.Document{}, err
		}
		content = text
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return storage.Document{}, err
		}
		content = string(data)
	}

	return storage.Document{
		ID:        uuid.NewString(),
		Name:      filepath.Base(path),
		Source:    path,
		Kind:      kind,
		Content:   content,
		Pages:     pages,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func enqueueEmbedJob(store *storage.Store, documentID string) error {
	payload, err := json.Marshal(embedPayload{DocumentID: documentID})
	if err != nil {
		return err
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeDocumentEmbed,
		PayloadJSON: string(payload),
	})
}
