// Package acquisition fans out to every source for a postcode, with a
// cache in front of each source and a fallback chain behind it, and merges
// the results in source-priority order.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alisufyan143/location-analyzer-v2/internal/cache"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// DefaultDeadline bounds one Acquire call.
const DefaultDeadline = 90 * time.Second

// Source is one logical data source and its ordered agent chain. The first
// agent is the primary; each later agent runs only if the previous failed.
type Source struct {
	Name     string
	Required bool
	Chain    []scraper.Agent
	Timeout  time.Duration
}

// Runner executes one agent with retries.
type Runner interface {
	Run(ctx context.Context, source string, agent scraper.Agent, pc postcode.Postcode) scraper.Result
}

// Merged is the combined view of every source for one postcode.
type Merged struct {
	Postcode   string
	Attributes scraper.Attributes
	// Results holds the final result per source, cached or fresh.
	Results map[string]scraper.Result
	// Missing lists optional sources whose fields were imputed.
	Missing []string
	// Cached lists sources served from the cache.
	Cached []string
}

// Orchestrator runs the per-source chains concurrently.
type Orchestrator struct {
	sources  []Source
	runner   Runner
	cache    *cache.Cache
	deadline time.Duration
	logger   *zap.Logger
}

// New builds an Orchestrator. Sources are merged in the order given. A nil
// cache disables caching.
func New(sources []Source, runner Runner, c *cache.Cache, deadline time.Duration, logger *zap.Logger) (*Orchestrator, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src.Name == "" {
			return nil, errors.New("source name is required")
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if len(src.Chain) == 0 {
			return nil, fmt.Errorf("source %q has no agents", src.Name)
		}
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sources:  sources,
		runner:   runner,
		cache:    c,
		deadline: deadline,
		logger:   logger,
	}, nil
}

type outcome struct {
	result scraper.Result
	cached bool
}

// Acquire runs every source for pc and merges the outcomes. A required
// source that exhausts its chain fails the call with
// ScraperFallbackExhausted; an optional one is recorded in Merged.Missing.
func (o *Orchestrator) Acquire(ctx context.Context, pc postcode.Postcode) (Merged, error) {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	outcomes := make([]outcome, len(o.sources))
	var g errgroup.Group
	for i, src := range o.sources {
		g.Go(func() error {
			outcomes[i] = o.acquireSource(ctx, src, pc)
			return nil
		})
	}
	_ = g.Wait()

	merged := Merged{
		Postcode:   pc.String(),
		Attributes: scraper.Attributes{},
		Results:    make(map[string]scraper.Result, len(o.sources)),
	}
	for i, src := range o.sources {
		out := outcomes[i]
		merged.Results[src.Name] = out.result
		if out.cached {
			merged.Cached = append(merged.Cached, src.Name)
		}
		if out.result.OK {
			mergeInto(merged.Attributes, out.result.Attributes)
			continue
		}
		if src.Required {
			return Merged{}, failure.Newf(failure.ScraperFallbackExhausted, "acquisition.acquire",
				"every agent for %s failed", src.Name).
				WithSource(src.Name).
				WithPostcode(pc.String()).
				WithDetail("last_kind", out.result.Kind.String()).
				WithDetail("agents", len(src.Chain))
		}
		o.logger.Warn("optional source unavailable, imputing",
			zap.String("source", src.Name),
			zap.String("postcode", pc.String()),
			zap.String("kind", out.result.Kind.String()),
			zap.Error(out.result.Err),
		)
		merged.Missing = append(merged.Missing, src.Name)
	}
	return merged, nil
}

func (o *Orchestrator) acquireSource(ctx context.Context, src Source, pc postcode.Postcode) outcome {
	logger := o.logger.With(zap.String("source", src.Name), zap.String("postcode", pc.String()))
	if o.cache != nil {
		if res, hit := o.cache.Get(ctx, src.Name, pc); hit {
			logger.Debug("cache hit")
			return outcome{result: res, cached: true}
		}
	}

	if src.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, src.Timeout)
		defer cancel()
	}

	var res scraper.Result
	for i, agent := range src.Chain {
		if i > 0 {
			logger.Info("falling back", zap.String("agent", agent.Name()), zap.String("previous_kind", res.Kind.String()))
		}
		res = o.runner.Run(ctx, src.Name, agent, pc)
		if res.OK || ctx.Err() != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		// Anything produced after the deadline is discarded.
		return outcome{result: scraper.Result{
			Source:      src.Name,
			Agent:       res.Agent,
			Postcode:    pc.String(),
			Kind:        failure.ScraperTimeout,
			Attempts:    res.Attempts,
			RetrievedAt: res.RetrievedAt,
			Err:         failure.Wrap(failure.ScraperTimeout, "acquisition."+src.Name, err),
		}}
	}

	if res.OK && o.cache != nil {
		if err := o.cache.Put(ctx, pc, res); err != nil {
			logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return outcome{result: res}
}

// mergeInto copies src fields into dst where dst has no usable value.
func mergeInto(dst, src scraper.Attributes) {
	for k, v := range src {
		if cur, ok := dst[k]; ok && cur != nil {
			continue
		}
		dst[k] = v
	}
}
