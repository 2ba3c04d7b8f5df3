// Package sources holds the concrete agents for the demographics, income and
// transport sources.
package sources

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// Source names used as cache namespaces and merge priorities.
const (
	Demographics = "demographics"
	Income       = "income"
	Transport    = "transport"
)

var poundsPattern = regexp.MustCompile(`£\s*([\d,]+)`)

// fetchDocument issues one GET through f on behalf of id.
func fetchDocument(ctx context.Context, f scraper.Fetcher, name, url string, id scraper.Identity) (scraper.Document, error) {
	resp, err := f.Fetch(ctx, scraper.FetchRequest{URL: url, Identity: id})
	if err != nil {
		return scraper.Document{}, fmt.Errorf("fetch %s: %w", name, err)
	}
	if resp.URL == "" {
		resp.URL = url
	}
	return resp.Document(name), nil
}

// requireOK turns a non-200 document into a parsing failure. Block statuses
// never reach here because the runner checks LooksBlocked first.
func requireOK(op string, doc scraper.Document) error {
	if doc.StatusCode == 0 || doc.StatusCode == http.StatusOK {
		return nil
	}
	return failure.Newf(failure.ScraperParsingFailure, op, "%s returned status %d", doc.Name, doc.StatusCode).
		WithDetail("url", doc.URL)
}

// parsePounds extracts the first £ amount from text.
func parsePounds(text string) (int, bool) {
	m := poundsPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// pct returns part/total as a percentage rounded to one decimal place.
func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
