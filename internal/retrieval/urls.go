package retrieval

import (
	"regexp"
	"strings"
)

const DefaultMaxLinks = 3

// Slack wraps links as <url|label>, so '|' ends a match as well. Schemes and
// hosts are case-insensitive, and so is the match.
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"|]+|www\.[^\s<>"|]+`)

const trailingPunctuation = ")>.,;]"

// ExtractURLs returns up to max distinct URLs from text in first-seen order.
func ExtractURLs(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLinks
	}
	matches := urlPattern.FindAllString(text, -1)
	urls := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		cleaned := strings.TrimRight(match, trailingPunctuation)
		if cleaned == "" || strings.EqualFold(cleaned, "www.") {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		urls = append(urls, cleaned)
		if len(urls) == max {
			break
		}
	}
	return urls
}

// NormalizeURL gives scheme-less www. links an https scheme.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}
