package retrieval

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/iago/technoshare-commentator/internal/domain"
)

const defaultGitHubRawBaseURL = "https://raw.githubusercontent.com"

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	markdownLinkPattern  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	htmlTagPattern       = regexp.MustCompile(`<[^>]+>`)
)

// GitHubAdapter reads a repository's README and falls back to the page scrape.
type GitHubAdapter struct {
	fetcher      *Fetcher
	generic      *GenericAdapter
	rawBaseURL   string
	maxSnippets  int
	snippetChars int
}

func NewGitHubAdapter(fetcher *Fetcher, generic *GenericAdapter, cfg AdapterConfig) *GitHubAdapter {
	rawBaseURL := strings.TrimSuffix(strings.TrimSpace(cfg.GitHubRawBaseURL), "/")
	if rawBaseURL == "" {
		rawBaseURL = defaultGitHubRawBaseURL
	}
	return &GitHubAdapter{
		fetcher:      fetcher,
		generic:      generic,
		rawBaseURL:   rawBaseURL,
		maxSnippets:  cfg.MaxSnippets,
		snippetChars: cfg.SnippetChars,
	}
}

func (a *GitHubAdapter) Name() string {
	return "github"
}

func (a *GitHubAdapter) FetchEvidence(ctx context.Context, rawURL string) domain.EvidencePack {
	owner, repo, ok := repositoryFromURL(rawURL)
	if !ok {
		return a.generic.FetchEvidence(ctx, rawURL)
	}

	readmeURL := a.rawBaseURL + "/" + owner + "/" + repo + "/HEAD/README.md"
	page, readmeErr := a.fetcher.Fetch(ctx, readmeURL)
	if readmeErr == nil {
		title, paragraphs := parseMarkdown(string(page.Body))
		if title == "" {
			title = owner + "/" + repo
		}
		snippets := buildSnippets(paragraphs, readmeURL, a.maxSnippets, a.snippetChars)
		if len(snippets) > 0 {
			return domain.EvidencePack{
				Sources: []domain.Source{
					{URL: NormalizeURL(rawURL), Title: owner + "/" + repo, FetchedAt: page.FetchedAt},
					{URL: readmeURL, Title: title, FetchedAt: page.FetchedAt},
				},
				Snippets: snippets,
				Coverage: domain.CoverageFull,
				Errors:   []string{},
			}
		}
	}

	readmeProblem := "README has no readable paragraphs"
	if readmeErr != nil {
		readmeProblem = "README unavailable: " + readmeErr.Error()
	}
	pack := a.generic.FetchEvidence(ctx, rawURL)
	pack.Errors = append(pack.Errors, readmeProblem)
	if pack.Coverage == domain.CoverageFull {
		pack.Coverage = domain.CoveragePartial
	}
	return pack
}

func repositoryFromURL(rawURL string) (string, string, bool) {
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil {
		return "", "", false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", false
	}
	return segments[0], strings.TrimSuffix(segments[1], ".git"), true
}

// parseMarkdown returns the first heading and the prose paragraphs of a README.
func parseMarkdown(content string) (string, []string) {
	var (
		title      string
		paragraphs []string
		inCode     bool
		current    []string
	)
	flush := func() {
		text := normalizeSpace(strings.Join(current, " "))
		current = current[:0]
		if len([]rune(text)) >= minParagraphChars {
			paragraphs = append(paragraphs, text)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			flush()
			continue
		}
		if inCode {
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			flush()
			if title == "" {
				title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			}
			continue
		}
		trimmed = markdownImagePattern.ReplaceAllString(trimmed, "")
		trimmed = markdownLinkPattern.ReplaceAllString(trimmed, "$1")
		trimmed = htmlTagPattern.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimLeft(trimmed, "-*> ")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		current = append(current, trimmed)
	}
	flush()
	return title, paragraphs
}
