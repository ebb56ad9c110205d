package retrieval

import "fmt"

// FormatCitations renders one citation per chunk, deduplicated in first-seen
// order. Paged documents cite "name p.N"; chunks without page metadata cite
// the source name alone, and a missing name falls back to "document".
func FormatCitations(chunks []ContextChunk) []string {
	var cites []string
	seen := make(map[string]bool)
	for _, ch := range chunks {
		src := ch.Source
		if src == "" {
			src = "document"
		}
		c := src
		if ch.Page > 0 {
			c = fmt.Sprintf("%s p.%d", src, ch.Page)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		cites = append(cites, c)
	}
	return cites
}
