package headless

import (
	"context"
	"fmt"

	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// ErrUnavailable is returned by Noop for every fetch. It wraps
// scraper.ErrFetcherUnavailable so the runner does not retry it.
var ErrUnavailable = fmt.Errorf("headless browser: %w", scraper.ErrFetcherUnavailable)

// Noop takes the rendered agent's slot when Chrome cannot be started, so the
// transport chain falls through to its static agent.
type Noop struct{}

// NewNoop returns a Noop fetcher.
func NewNoop() *Noop { return &Noop{} }

// Fetch implements scraper.Fetcher.
func (*Noop) Fetch(context.Context, scraper.FetchRequest) (scraper.FetchResponse, error) {
	return scraper.FetchResponse{}, ErrUnavailable
}
