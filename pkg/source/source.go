package source

import (
	"context"
	"iter"
	"net/http"
	"time"
)

// Post is one forum post that mentions at least one domain.
type Post struct {
	URL      string
	PostedAt time.Time
	Domains  []string
}

// FoundAt returns the post timestamp in the form stored alongside a domain.
func (p Post) FoundAt() string {
	return p.PostedAt.Format(time.RFC3339)
}

// Candidates flattens the post into one candidate per mentioned domain,
// preserving extraction order.
func (p Post) Candidates() []Candidate {
	out := make([]Candidate, 0, len(p.Domains))
	for _, d := range p.Domains {
		out = append(out, Candidate{Domain: d, SourceURL: p.URL, FoundAt: p.FoundAt()})
	}
	return out
}

// Candidate is a domain-shaped string found in a post, not yet verified.
type Candidate struct {
	Domain    string `json:"domain"`
	SourceURL string `json:"source_url"`
	FoundAt   string `json:"found_at"`
}

// Source is anything that yields posts for one discovery cycle. The sequence
// is finite and not restartable; a non-nil error ends it.
type Source interface {
	Crawl(ctx context.Context) iter.Seq2[Post, error]
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
