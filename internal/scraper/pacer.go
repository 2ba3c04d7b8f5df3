package scraper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// PacerConfig holds pacing configuration.
type PacerConfig struct {
	// RPS is the per-source token rate; <= 0 disables the token bucket.
	RPS   float64
	Burst int
	// MinDelay and MaxDelay bound the random human-like pause added before
	// every fetch.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Pacer spaces out requests per source.
type Pacer struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	minDelay     time.Duration
	maxDelay     time.Duration
}

// NewPacer creates a Pacer.
func NewPacer(cfg PacerConfig) *Pacer {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.MinDelay {
		maxDelay = cfg.MinDelay
	}
	return &Pacer{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		minDelay:     cfg.MinDelay,
		maxDelay:     maxDelay,
	}
}

// Wait blocks until source may issue its next request.
func (p *Pacer) Wait(ctx context.Context, source string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(p.defaultRate, p.defaultBurst)
		p.limiters[source] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := sleep(ctx, p.jitterDelay()); err != nil {
		return fmt.Errorf("pacing delay: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(source, waited)
	}
	return nil
}

func (p *Pacer) jitterDelay() time.Duration {
	if p.maxDelay <= 0 {
		return 0
	}
	span := p.maxDelay - p.minDelay
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int64N(int64(span)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
