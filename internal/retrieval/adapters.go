package retrieval

import (
	"context"
	"net/url"
	"strings"

	"github.com/iago/technoshare-commentator/internal/domain"
)

// EvidenceAdapter retrieves evidence for one URL. Implementations never
// return an error: failures are reported through Coverage and Errors.
type EvidenceAdapter interface {
	Name() string
	FetchEvidence(ctx context.Context, rawURL string) domain.EvidencePack
}

// Predicate decides whether a route handles a parsed URL.
type Predicate func(u *url.URL) bool

type Route struct {
	Match   Predicate
	Adapter EvidenceAdapter
}

// Registry picks the first route whose predicate matches, else the fallback.
type Registry struct {
	routes   []Route
	fallback EvidenceAdapter
}

func NewRegistry(fallback EvidenceAdapter, routes ...Route) *Registry {
	return &Registry{
		routes:   append([]Route(nil), routes...),
		fallback: fallback,
	}
}

func (r *Registry) Select(rawURL string) EvidenceAdapter {
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil {
		return r.fallback
	}
	for _, route := range r.routes {
		if route.Match != nil && route.Match(parsed) {
			return route.Adapter
		}
	}
	return r.fallback
}

// HostIs matches a domain and its subdomains.
func HostIs(domains ...string) Predicate {
	return func(u *url.URL) bool {
		host := strings.ToLower(u.Hostname())
		for _, domain := range domains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
		return false
	}
}

type AdapterConfig struct {
	MaxSnippets      int
	SnippetChars     int
	GitHubRawBaseURL string
}

// NewDefaultRegistry wires the GitHub and arXiv adapters in front of the generic one.
func NewDefaultRegistry(fetcher *Fetcher, cfg AdapterConfig) *Registry {
	generic := NewGenericAdapter(fetcher, cfg)
	return NewRegistry(generic,
		Route{Match: HostIs("github.com"), Adapter: NewGitHubAdapter(fetcher, generic, cfg)},
		Route{Match: HostIs("arxiv.org"), Adapter: NewArxivAdapter(fetcher, generic, cfg)},
	)
}
