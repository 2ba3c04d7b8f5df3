// Package scraper defines the agent contract and the machinery every agent
// shares: identity rotation, pacing, block detection and bounded retries.
package scraper

import (
	"context"
	"net/http"
	"time"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
)

// Attributes is the raw, heterogeneous attribute map an agent produces.
// A nil value marks a field the source reported as unavailable.
type Attributes map[string]any

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Document is one fetched resource.
type Document struct {
	Name       string
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Page is everything an agent fetched for one postcode. Agents that need
// several resources (one per dataset or section) return several documents.
type Page struct {
	Documents []Document
}

// Doc returns the document called name.
func (p Page) Doc(name string) (Document, bool) {
	for _, d := range p.Documents {
		if d.Name == name {
			return d, true
		}
	}
	return Document{}, false
}

// Agent extracts attributes for a postcode from one external source.
type Agent interface {
	Name() string
	Fetch(ctx context.Context, pc postcode.Postcode, id Identity) (Page, error)
	Parse(page Page) (Attributes, error)
	LooksBlocked(page Page) bool
}

// FetchRequest is a single resource request issued by an agent.
type FetchRequest struct {
	URL      string
	Identity Identity
	Headers  http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Document converts the response into a named Document.
func (r FetchResponse) Document(name string) Document {
	return Document{
		Name:       name,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       r.Body,
		Duration:   r.Duration,
		Headless:   r.UsedHeadless,
	}
}

// Fetcher retrieves a URL on behalf of an agent.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Result is the immutable outcome of running one agent for one postcode.
type Result struct {
	Source      string       `json:"source"`
	Agent       string       `json:"agent"`
	Postcode    string       `json:"postcode"`
	Attributes  Attributes   `json:"attributes,omitempty"`
	OK          bool         `json:"ok"`
	Kind        failure.Kind `json:"kind,omitempty"`
	Attempts    int          `json:"attempts"`
	RetrievedAt time.Time    `json:"retrieved_at"`
	IdentityID  string       `json:"identity_id,omitempty"`
	Err         error        `json:"-"`
}
