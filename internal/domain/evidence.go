package domain

import "time"

type Coverage string

const (
	CoverageFull    Coverage = "full"
	CoveragePartial Coverage = "partial"
	CoverageFailed  Coverage = "failed"
)

type Source struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Snippet struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
}

// EvidencePack is the retrieval output for one target URL.
type EvidencePack struct {
	Sources  []Source  `json:"sources"`
	Snippets []Snippet `json:"snippets"`
	Coverage Coverage  `json:"coverage"`
	Errors   []string  `json:"errors"`
}

// FailedEvidence builds the pack an adapter returns when nothing could be retrieved.
func FailedEvidence(url string, errs ...string) EvidencePack {
	return EvidencePack{
		Sources:  []Source{{URL: url, FetchedAt: time.Now().UTC()}},
		Snippets: []Snippet{},
		Coverage: CoverageFailed,
		Errors:   errs,
	}
}
