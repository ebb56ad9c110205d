package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/fraudqa/internal/storage"
)

const (
	chunkSize    = 900
	chunkOverlap = 150
)

// pageSeparator joins per-page texts inside a stored document. Form
// feed is the pdftotext convention; splitting on it restores 1-based
// page numbers for citations.
const pageSeparator = "\f"

// chunkSeparators, widest natural boundary first. The final "" means
// split anywhere once nothing larger matches.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// PageChunk is one splitter chunk tagged with its 1-based page number,
// or 0 when the document has no page structure.
type PageChunk struct {
	Page int
	Text string
}

// ChunkDocument splits a document into page-tagged chunks ready for
// embedding.
func ChunkDocument(doc storage.Document) []PageChunk {
	var chunks []PageChunk

	if doc.Kind == storage.KindPDF && doc.Pages > 0 {
		for i, pageText := range strings.Split(doc.Content, pageSeparator) {
			for _, text := range SplitText(pageText) {
				chunks = append(chunks, PageChunk{Page: i + 1, Text: text})
			}
		}
		return chunks
	}

	for _, text := range SplitText(doc.Content) {
		chunks = append(chunks, PageChunk{Page: 0, Text: text})
	}
	return chunks
}

// SplitText splits text into overlapping chunks along natural
// boundaries, preferring paragraph breaks over lines over sentences
// over words. Chunks are at most chunkSize runes with chunkOverlap
// runes carried between neighbours.
func SplitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return splitRecursive(text, chunkSeparators)
}

func splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var narrower []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			narrower = separators[i+1:]
			break
		}
	}

	// strings.Split with "" yields individual runes, so even text with
	// no separators at all still merges back into bounded chunks.
	splits := strings.Split(text, separator)

	var chunks []string
	var pending []string
	for _, split := range splits {
		if utf8.RuneCountInString(split) < chunkSize {
			pending = append(pending, split)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, mergeSplits(pending, separator)...)
			pending = nil
		}
		if len(narrower) == 0 {
			chunks = append(chunks, split)
		} else {
			chunks = append(chunks, splitRecursive(split, narrower)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, mergeSplits(pending, separator)...)
	}
	return chunks
}

// mergeSplits packs consecutive splits into chunks up to chunkSize,
// keeping a tail of up to chunkOverlap runes for the next chunk.
func mergeSplits(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var chunks []string
	var current []string
	total := 0

	for _, split := range splits {
		length := utf8.RuneCountInString(split)
		if total+length+len(current)*sepLen > chunkSize && len(current) > 0 {
			if joined := strings.TrimSpace(strings.Join(current, separator)); joined != "" {
				chunks = append(chunks, joined)
			}
			for total > chunkOverlap || (total+length+len(current)*sepLen > chunkSize && total > 0) {
				total -= utf8.RuneCountInString(current[0]) + sepLen
				current = current[1:]
			}
		}
		current = append(current, split)
		total += length + sepLen
	}

	if joined := strings.TrimSpace(strings.Join(current, separator)); joined != "" {
		chunks = append(chunks, joined)
	}
	return chunks
}
