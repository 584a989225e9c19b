package retrieval

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/iago/technoshare-commentator/internal/domain"
)

const (
	DefaultMaxSnippets  = 12
	DefaultSnippetChars = 500
	minParagraphChars   = 40
)

// Extracted is the readable content of one HTML document.
type Extracted struct {
	Title       string
	Description string
	Paragraphs  []string
}

func ExtractHTML(body []byte) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extracted{}, fmt.Errorf("parse html: %w", err)
	}
	return extractDocument(doc), nil
}

func extractDocument(doc *goquery.Document) Extracted {
	extracted := Extracted{
		Title: firstNonEmpty(
			metaContent(doc, "og:title"),
			normalizeSpace(doc.Find("title").First().Text()),
			normalizeSpace(doc.Find("h1").First().Text()),
		),
		Description: firstNonEmpty(
			metaContent(doc, "og:description"),
			metaContent(doc, "description"),
		),
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form, svg, iframe").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	seen := make(map[string]struct{})
	root.Find("p, li, blockquote, pre").Each(func(_ int, node *goquery.Selection) {
		if node.Is("li") && node.Find("p").Length() > 0 {
			return
		}
		text := normalizeSpace(node.Text())
		if utf8.RuneCountInString(text) < minParagraphChars {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		extracted.Paragraphs = append(extracted.Paragraphs, text)
	})
	return extracted
}

// Snippets turns paragraphs into numbered evidence snippets.
func (e Extracted) Snippets(sourceURL string, maxSnippets, maxChars int) []domain.Snippet {
	return buildSnippets(e.Paragraphs, sourceURL, maxSnippets, maxChars)
}

func buildSnippets(paragraphs []string, sourceURL string, maxSnippets, maxChars int) []domain.Snippet {
	if maxSnippets <= 0 {
		maxSnippets = DefaultMaxSnippets
	}
	if maxChars <= 0 {
		maxChars = DefaultSnippetChars
	}
	snippets := make([]domain.Snippet, 0, min(len(paragraphs), maxSnippets))
	for _, paragraph := range paragraphs {
		if len(snippets) == maxSnippets {
			break
		}
		snippets = append(snippets, domain.Snippet{
			ID:        "s" + strconv.Itoa(len(snippets)+1),
			Content:   truncateAtWord(paragraph, maxChars),
			SourceURL: sourceURL,
		})
	}
	return snippets
}

func metaContent(doc *goquery.Document, name string) string {
	selector := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)
	content, _ := doc.Find(selector).First().Attr("content")
	return normalizeSpace(content)
}

func normalizeSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func truncateAtWord(value string, maxLen int) string {
	if utf8.RuneCountInString(value) <= maxLen {
		return value
	}
	runes := []rune(value)
	cut := string(runes[:maxLen-1])
	if index := strings.LastIndex(cut, " "); index > len(cut)/2 {
		cut = cut[:index]
	}
	return strings.TrimSpace(cut) + "…"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
