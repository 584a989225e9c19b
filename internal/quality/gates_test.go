package quality

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/domain"
)

var testThemes = []config.Theme{
	{Name: "ingestion", Keywords: []string{"ingest"}},
	{Name: "queues", Keywords: []string{"job queue"}},
	{Name: "observability"},
}

func passingResult() domain.AnalysisResult {
	return domain.AnalysisResult{
		TLDR:    []string{"Widget is a queue.", "It runs on SQLite!", "Is it fast? Yes."},
		Summary: strings.Repeat("Widget stores jobs durably. ", 5),
		Projects: []string{
			"Use it to ingest links into a job queue.",
			"Add observability around ingestion.",
			"Replace the cron runner.",
		},
		SimilarTech: []string{"River"},
	}
}

func TestRunPassesValidResult(t *testing.T) {
	report := NewGates(1).Run(passingResult(), testThemes)
	if !report.Passed() {
		t.Fatalf("expected pass, got %s", report.Error())
	}
	if report.Err() != nil {
		t.Fatalf("expected nil error, got %v", report.Err())
	}
}

func TestRunCollectsEveryFailure(t *testing.T) {
	result := domain.AnalysisResult{
		TLDR:        []string{"Only one", "Two."},
		Summary:     "short",
		Projects:    []string{"a"},
		SimilarTech: make([]string, 9),
	}
	report := NewGates(1).Run(result, testThemes)

	want := []string{
		"summary_min_length",
		"tldr_sentence_count",
		"tldr_full_sentences",
		"projects_min_count",
		"similar_tech_max_count",
		"projects_theme_references",
	}
	if got := report.GateNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected failing gates %v", got)
	}
	err := report.Err()
	if !errors.Is(err, ErrGatesFailed) {
		t.Fatalf("expected ErrGatesFailed, got %v", err)
	}
	for _, name := range want {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q does not name gate %s", err.Error(), name)
		}
	}
}

func TestThemeGateRequiresTwoThemesPerBullet(t *testing.T) {
	result := passingResult()
	result.Projects = []string{
		"Use it to ingest links.",
		"Add observability.",
		"Replace the cron runner.",
	}
	report := NewGates(1).Run(result, testThemes)
	if got := report.GateNames(); !reflect.DeepEqual(got, []string{"projects_theme_references"}) {
		t.Fatalf("unexpected failing gates %v", got)
	}
}

func TestThemeGatePassesWithoutThemes(t *testing.T) {
	result := passingResult()
	result.Projects = []string{"a.", "b.", "c."}
	if report := NewGates(2).Run(result, nil); !report.Passed() {
		t.Fatalf("expected pass without themes, got %s", report.Error())
	}
}

func TestThemeGateStillNeedsTwoThemesWithSingleTheme(t *testing.T) {
	result := passingResult()
	themes := []config.Theme{{Name: "SQLite"}}
	result.Projects = []string{"Move the sqlite store.", "b.", "c."}
	report := NewGates(1).Run(result, themes)
	if got := report.GateNames(); !reflect.DeepEqual(got, []string{"projects_theme_references"}) {
		t.Fatalf("expected a single-theme vocabulary to fail the theme gate, got %v", got)
	}
	if !strings.Contains(report.Error(), "at least 2 themes") {
		t.Fatalf("unexpected gate message %q", report.Error())
	}
}

func TestRunIsDeterministic(t *testing.T) {
	gates := NewGates(1)
	result := passingResult()
	result.Summary = "short"
	first := gates.Run(result, testThemes).Error()
	for i := 0; i < 20; i++ {
		if got := gates.Run(result, testThemes).Error(); got != first {
			t.Fatalf("run %d differs: %q vs %q", i, got, first)
		}
	}
}

func TestHasTerminalPunctuation(t *testing.T) {
	cases := map[string]bool{
		"Done.":           true,
		"Really?":         true,
		`He said "go!"`:   true,
		"It is **fast**.": true,
		"It is **fast!**": true,
		"no end":          false,
		"two\nlines.":     false,
		"":                false,
	}
	for input, want := range cases {
		if got := hasTerminalPunctuation(input); got != want {
			t.Fatalf("hasTerminalPunctuation(%q) = %v, want %v", input, got, want)
		}
	}
}
