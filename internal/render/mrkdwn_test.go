package render

import (
	"strings"
	"testing"

	"github.com/iago/technoshare-commentator/internal/domain"
)

func TestAnalysisToMrkdwnLayout(t *testing.T) {
	result := domain.AnalysisResult{
		TLDR:        []string{"One **big** idea.", "Two.", "Three."},
		Summary:     "A paragraph about **Widget**.",
		Projects:    []string{"Use it.", "  ", "Ship it."},
		SimilarTech: []string{"River"},
	}

	want := "*tldr*\n• One *big* idea.\n• Two.\n• Three." +
		"\n\n\n*Summary*\nA paragraph about *Widget*." +
		"\n\n\n*Projects*\n• Use it.\n• Ship it." +
		"\n\n\n*Similar tech*\n• River"
	if got := AnalysisToMrkdwn(result); got != want {
		t.Fatalf("unexpected rendering:\n%s\n---\nwant:\n%s", got, want)
	}
}

func TestAnalysisToMrkdwnWithoutSimilarTech(t *testing.T) {
	got := AnalysisToMrkdwn(domain.AnalysisResult{TLDR: []string{"A."}, Summary: "S", Projects: []string{"P"}})
	if !strings.HasSuffix(got, "*Similar tech*\n• *N/A*") {
		t.Fatalf("expected N/A section, got %q", got)
	}
}

func TestMarkdownToMrkdwnKeepsCodeBlocks(t *testing.T) {
	input := "**bold** ```keep **this**``` and **that**"
	want := "*bold* ```keep **this**``` and *that*"
	if got := MarkdownToMrkdwn(input); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
