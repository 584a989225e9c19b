package retrieval

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/iago/technoshare-commentator/internal/domain"
)

// ArxivAdapter reads the abstract page of a paper, whichever arXiv link was shared.
type ArxivAdapter struct {
	fetcher      *Fetcher
	generic      *GenericAdapter
	maxSnippets  int
	snippetChars int
}

func NewArxivAdapter(fetcher *Fetcher, generic *GenericAdapter, cfg AdapterConfig) *ArxivAdapter {
	return &ArxivAdapter{
		fetcher:      fetcher,
		generic:      generic,
		maxSnippets:  cfg.MaxSnippets,
		snippetChars: cfg.SnippetChars,
	}
}

func (a *ArxivAdapter) Name() string {
	return "arxiv"
}

func (a *ArxivAdapter) FetchEvidence(ctx context.Context, rawURL string) domain.EvidencePack {
	target := abstractURL(rawURL)
	page, err := a.fetcher.Fetch(ctx, target)
	if err != nil {
		return domain.FailedEvidence(rawURL, err.Error())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return domain.FailedEvidence(rawURL, "parse arxiv page: "+err.Error())
	}

	title := normalizeSpace(strings.TrimPrefix(normalizeSpace(doc.Find("h1.title").First().Text()), "Title:"))
	abstract := normalizeSpace(strings.TrimPrefix(normalizeSpace(doc.Find("blockquote.abstract").First().Text()), "Abstract:"))
	if abstract == "" {
		return a.generic.evidenceFromExtracted(page, extractDocument(doc))
	}

	paragraphs := chunkText(abstract, a.chunkChars())
	if authors := normalizeSpace(strings.TrimPrefix(normalizeSpace(doc.Find("div.authors").First().Text()), "Authors:")); authors != "" {
		paragraphs = append(paragraphs, "Authors: "+authors)
	}
	return domain.EvidencePack{
		Sources:  []domain.Source{{URL: page.URL, Title: title, FetchedAt: page.FetchedAt}},
		Snippets: buildSnippets(paragraphs, page.URL, a.maxSnippets, a.snippetChars),
		Coverage: domain.CoverageFull,
		Errors:   []string{},
	}
}

func (a *ArxivAdapter) chunkChars() int {
	if a.snippetChars > 0 {
		return a.snippetChars
	}
	return DefaultSnippetChars
}

// abstractURL rewrites /pdf/<id>[.pdf] links to /abs/<id>.
func abstractURL(rawURL string) string {
	normalized := NormalizeURL(rawURL)
	parsed, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	if strings.HasPrefix(parsed.Path, "/pdf/") {
		parsed.Path = "/abs/" + strings.TrimSuffix(strings.TrimPrefix(parsed.Path, "/pdf/"), ".pdf")
		parsed.RawQuery = ""
	}
	return parsed.String()
}

// chunkText splits text into word-aligned pieces of at most maxChars runes.
func chunkText(text string, maxChars int) []string {
	words := strings.Fields(text)
	chunks := make([]string, 0, 1)
	var current strings.Builder
	currentLen := 0
	for _, word := range words {
		wordLen := len([]rune(word))
		if currentLen > 0 && currentLen+1+wordLen > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(word)
		currentLen += wordLen
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
