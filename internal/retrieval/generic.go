package retrieval

import (
	"context"
	"strings"

	"github.com/iago/technoshare-commentator/internal/domain"
)

const maxToolPageChars = 6000

// GenericAdapter fetches a page and extracts its readable paragraphs.
type GenericAdapter struct {
	fetcher      *Fetcher
	maxSnippets  int
	snippetChars int
}

func NewGenericAdapter(fetcher *Fetcher, cfg AdapterConfig) *GenericAdapter {
	return &GenericAdapter{
		fetcher:      fetcher,
		maxSnippets:  cfg.MaxSnippets,
		snippetChars: cfg.SnippetChars,
	}
}

func (a *GenericAdapter) Name() string {
	return "generic"
}

func (a *GenericAdapter) FetchEvidence(ctx context.Context, rawURL string) domain.EvidencePack {
	page, err := a.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return domain.FailedEvidence(rawURL, err.Error())
	}
	return a.evidenceFromPage(rawURL, page)
}

func (a *GenericAdapter) evidenceFromPage(rawURL string, page *Page) domain.EvidencePack {
	extracted, err := a.extract(page)
	if err != nil {
		return domain.FailedEvidence(rawURL, err.Error())
	}
	return a.evidenceFromExtracted(page, extracted)
}

func (a *GenericAdapter) evidenceFromExtracted(page *Page, extracted Extracted) domain.EvidencePack {
	source := domain.Source{URL: page.URL, Title: extracted.Title, FetchedAt: page.FetchedAt}
	pack := domain.EvidencePack{
		Sources:  []domain.Source{source},
		Snippets: extracted.Snippets(page.URL, a.maxSnippets, a.snippetChars),
		Coverage: domain.CoverageFull,
		Errors:   []string{},
	}
	if len(pack.Snippets) > 0 {
		return pack
	}

	if extracted.Description != "" {
		pack.Snippets = buildSnippets([]string{extracted.Description}, page.URL, 1, a.snippetChars)
		pack.Coverage = domain.CoveragePartial
		pack.Errors = append(pack.Errors, "no article body found; using page description")
		return pack
	}
	pack.Coverage = domain.CoverageFailed
	pack.Errors = append(pack.Errors, "no extractable content")
	return pack
}

func (a *GenericAdapter) extract(page *Page) (Extracted, error) {
	if page.IsHTML() {
		return ExtractHTML(page.Body)
	}
	return extractPlainText(string(page.Body)), nil
}

// ReadPage fetches a URL and returns its text for the reasoning service's
// search tool. Failures are described in the returned text.
func (a *GenericAdapter) ReadPage(ctx context.Context, rawURL string) string {
	page, err := a.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "Error fetching " + rawURL + ": " + err.Error()
	}
	extracted, err := a.extract(page)
	if err != nil {
		return "Error reading " + rawURL + ": " + err.Error()
	}

	var builder strings.Builder
	if extracted.Title != "" {
		builder.WriteString(extracted.Title)
		builder.WriteString("\n\n")
	}
	if len(extracted.Paragraphs) == 0 && extracted.Description != "" {
		builder.WriteString(extracted.Description)
	}
	for _, paragraph := range extracted.Paragraphs {
		builder.WriteString(paragraph)
		builder.WriteString("\n\n")
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "No content found."
	}
	return truncateAtWord(text, maxToolPageChars)
}

func extractPlainText(body string) Extracted {
	var extracted Extracted
	for _, block := range strings.Split(body, "\n\n") {
		text := normalizeSpace(block)
		if len([]rune(text)) < minParagraphChars {
			continue
		}
		extracted.Paragraphs = append(extracted.Paragraphs, text)
	}
	return extracted
}
