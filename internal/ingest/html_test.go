package ingest

import (
	"strings"
	"testing"
)

func TestExtractHTMLText_StripsMarkup(t *testing.T) {
	in := `<html><body><h1>Fraud basics</h1><p>Card <b>skimming</b> copies stripe data.</p></body></html>`
	got, err := ExtractHTMLText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ExtractHTMLText: %v", err)
	}
	for _, want := range []string{"Fraud basics", "skimming", "copies stripe data."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
	if strings.Contains(got, "<") {
		t.Errorf("output still contains markup: %q", got)
	}
}

func TestExtractHTMLText_SkipsScriptAndStyle(t *testing.T) {
	in := `<html><head><style>body{margin:0}</style><script>var x = 1;</script></head>` +
		`<body><p>visible</p></body></html>`
	got, err := ExtractHTMLText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ExtractHTMLText: %v", err)
	}
	if got != "visible" {
		t.Errorf("got %q, want %q", got, "visible")
	}
}

func TestExtractHTMLText_JoinsBlocksWithNewlines(t *testing.T) {
	in := `<p>first</p><p>second</p><p>third</p>`
	got, err := ExtractHTMLText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ExtractHTMLText: %v", err)
	}
	if got != "first\nsecond\nthird" {
		t.Errorf("got %q, want newline-joined blocks", got)
	}
}

func TestExtractHTMLText_ToleratesMalformedInput(t *testing.T) {
	got, err := ExtractHTMLText(strings.NewReader("<p>unclosed <b>bold"))
	if err != nil {
		t.Fatalf("ExtractHTMLText: %v", err)
	}
	if !strings.Contains(got, "unclosed") || !strings.Contains(got, "bold") {
		t.Errorf("got %q, want both text fragments", got)
	}
}
