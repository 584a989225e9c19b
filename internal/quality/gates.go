package quality

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iago/technoshare-commentator/internal/config"
	"github.com/iago/technoshare-commentator/internal/domain"
)

var ErrGatesFailed = errors.New("quality gates failed")

const (
	minSummaryChars    = 100
	tldrSentences      = 3
	minProjectBullets  = 3
	maxSimilarTech     = 8
	themesPerReference = 2
)

// Failure is one gate's verdict on a result.
type Failure struct {
	Gate   string
	Reason string
}

type Report struct {
	failures []Failure
}

func (r Report) Passed() bool {
	return len(r.failures) == 0
}

func (r Report) Failures() []Failure {
	return append([]Failure(nil), r.failures...)
}

func (r Report) GateNames() []string {
	names := make([]string, 0, len(r.failures))
	for _, failure := range r.failures {
		names = append(names, failure.Gate)
	}
	return names
}

// Err returns nil when every gate passed.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrGatesFailed, r.Error())
}

func (r Report) Error() string {
	parts := make([]string, 0, len(r.failures))
	for _, failure := range r.failures {
		parts = append(parts, failure.Gate+": "+failure.Reason)
	}
	return strings.Join(parts, "; ")
}

// gate returns an empty reason when the result passes.
type gate struct {
	name  string
	check func(result domain.AnalysisResult, themes []config.Theme) string
}

// Gates runs the structural checks that must hold before a reply is posted.
type Gates struct {
	minThemedProjects int
	gates             []gate
}

func NewGates(minThemedProjects int) *Gates {
	if minThemedProjects < 0 {
		minThemedProjects = 0
	}
	g := &Gates{minThemedProjects: minThemedProjects}
	g.gates = []gate{
		{name: "summary_min_length", check: checkSummaryLength},
		{name: "tldr_sentence_count", check: checkTLDRCount},
		{name: "tldr_full_sentences", check: checkTLDRSentences},
		{name: "projects_min_count", check: checkProjectCount},
		{name: "similar_tech_max_count", check: checkSimilarTechCount},
		{name: "projects_theme_references", check: g.checkThemeReferences},
	}
	return g
}

// Run executes every gate and collects all failures.
func (g *Gates) Run(result domain.AnalysisResult, themes []config.Theme) Report {
	var report Report
	for _, current := range g.gates {
		if reason := current.check(result, themes); reason != "" {
			report.failures = append(report.failures, Failure{Gate: current.name, Reason: reason})
		}
	}
	return report
}

func checkSummaryLength(result domain.AnalysisResult, _ []config.Theme) string {
	length := utf8.RuneCountInString(normalizeText(result.Summary))
	if length < minSummaryChars {
		return fmt.Sprintf("summary must be at least %d characters, got %d", minSummaryChars, length)
	}
	return ""
}

func checkTLDRCount(result domain.AnalysisResult, _ []config.Theme) string {
	if len(result.TLDR) != tldrSentences {
		return fmt.Sprintf("tldr must have exactly %d sentences, got %d", tldrSentences, len(result.TLDR))
	}
	return ""
}

func checkTLDRSentences(result domain.AnalysisResult, _ []config.Theme) string {
	for index, sentence := range result.TLDR {
		if !hasTerminalPunctuation(sentence) {
			return fmt.Sprintf("tldr item %d is not a full sentence", index+1)
		}
	}
	return ""
}

func checkProjectCount(result domain.AnalysisResult, _ []config.Theme) string {
	count := countNonEmpty(result.Projects)
	if count < minProjectBullets {
		return fmt.Sprintf("projects must have at least %d bullets, got %d", minProjectBullets, count)
	}
	return ""
}

func checkSimilarTechCount(result domain.AnalysisResult, _ []config.Theme) string {
	if len(result.SimilarTech) > maxSimilarTech {
		return fmt.Sprintf("similar tech allows at most %d bullets, got %d", maxSimilarTech, len(result.SimilarTech))
	}
	return ""
}

func (g *Gates) checkThemeReferences(result domain.AnalysisResult, themes []config.Theme) string {
	if len(themes) == 0 || g.minThemedProjects == 0 {
		return ""
	}
	themed := 0
	for _, bullet := range result.Projects {
		if countThemesMentioned(bullet, themes) >= themesPerReference {
			themed++
		}
	}
	if themed < g.minThemedProjects {
		return fmt.Sprintf("%d project bullets must reference at least %d themes, got %d", g.minThemedProjects, themesPerReference, themed)
	}
	return ""
}

func countThemesMentioned(text string, themes []config.Theme) int {
	lowered := strings.ToLower(text)
	count := 0
	for _, theme := range themes {
		for _, term := range theme.Terms() {
			if strings.Contains(lowered, strings.ToLower(term)) {
				count++
				break
			}
		}
	}
	return count
}

func countNonEmpty(values []string) int {
	count := 0
	for _, value := range values {
		if normalizeText(value) != "" {
			count++
		}
	}
	return count
}

func normalizeText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func hasTerminalPunctuation(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.Contains(trimmed, "\n") {
		return false
	}
	trimmed = strings.TrimRight(trimmed, `"')]*`+"”’")
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '.' || last == '!' || last == '?'
}
