// Package render turns analysis results into Slack mrkdwn replies.
package render

import (
	"regexp"
	"strings"

	"github.com/iago/technoshare-commentator/internal/domain"
)

const (
	bullet           = "• "
	sectionSeparator = "\n\n\n"
)

var (
	boldPattern      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	codeBlockPattern = regexp.MustCompile("(?s)```.*?```")
)

// AnalysisToMarkdown lays the result out as Markdown sections separated by
// two blank lines.
func AnalysisToMarkdown(result domain.AnalysisResult) string {
	similar := "**Similar tech**\n" + bulletList(result.SimilarTech)
	if strings.TrimSpace(bulletList(result.SimilarTech)) == "" {
		similar = "**Similar tech**\n" + bullet + "**N/A**"
	}
	sections := []string{
		"**tldr**\n" + bulletList(result.TLDR),
		"**Summary**\n" + strings.TrimSpace(result.Summary),
		"**Projects**\n" + bulletList(result.Projects),
		similar,
	}
	return strings.Join(sections, sectionSeparator)
}

// AnalysisToMrkdwn renders the result in Slack's dialect.
func AnalysisToMrkdwn(result domain.AnalysisResult) string {
	return MarkdownToMrkdwn(AnalysisToMarkdown(result))
}

// MarkdownToMrkdwn converts **bold** to *bold*, leaving fenced code untouched.
func MarkdownToMrkdwn(text string) string {
	var builder strings.Builder
	last := 0
	for _, block := range codeBlockPattern.FindAllStringIndex(text, -1) {
		builder.WriteString(boldPattern.ReplaceAllString(text[last:block[0]], "*$1*"))
		builder.WriteString(text[block[0]:block[1]])
		last = block[1]
	}
	builder.WriteString(boldPattern.ReplaceAllString(text[last:], "*$1*"))
	return builder.String()
}

func bulletList(lines []string) string {
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			items = append(items, bullet+trimmed)
		}
	}
	return strings.Join(items, "\n")
}
