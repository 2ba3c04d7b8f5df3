package scraper

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// Errors that end an agent's run on the first attempt.
var (
	// ErrIdentitiesCooling reports that every identity is cooling down for
	// the source, so no fetch was made.
	ErrIdentitiesCooling = errors.New("every identity is cooling down for source")
	// ErrFetcherUnavailable is wrapped by fetchers that cannot serve any
	// request, such as a browser that failed to start.
	ErrFetcherUnavailable = errors.New("fetcher unavailable")
)

// Runner executes a single agent with identity rotation, pacing and retries.
type Runner struct {
	identities *IdentityPool
	pacer      *Pacer
	retry      RetryPolicy
	clock      Clock
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewRunner wires a Runner. A nil pacer disables pacing and a nil logger is replaced by a no-op.
func NewRunner(identities *IdentityPool, pacer *Pacer, retry RetryPolicy, clock Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	return &Runner{
		identities: identities,
		pacer:      pacer,
		retry:      retry,
		clock:      clock,
		logger:     logger,
		sleep:      sleep,
	}
}

// Run drives agent for pc until it succeeds, fails terminally or exhausts its
// attempts. The returned Result is never nil-valued; failures carry Kind and Err.
func (r *Runner) Run(ctx context.Context, source string, agent Agent, pc postcode.Postcode) Result {
	start := time.Now()
	defer func() {
		telemetry.ObserveScrapeDuration(source, agent.Name(), time.Since(start))
	}()

	logger := r.logger.With(
		zap.String("source", source),
		zap.String("agent", agent.Name()),
		zap.String("postcode", pc.String()),
	)

	result := Result{Source: source, Agent: agent.Name(), Postcode: pc.String()}
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		attrs, id, err := r.attempt(ctx, source, agent, pc)
		result.IdentityID = id.ID
		if err == nil {
			telemetry.ObserveScrapeAttempt(source, agent.Name(), "ok")
			result.OK = true
			result.Attributes = attrs
			result.RetrievedAt = r.clock.Now()
			logger.Debug("agent succeeded", zap.Int("attempt", attempt), zap.Int("fields", len(attrs)))
			return result
		}

		kind := failure.KindOf(err)
		telemetry.ObserveScrapeAttempt(source, agent.Name(), kind.String())
		logger.Debug("agent attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.String("identity", id.ID),
			zap.Error(err),
		)

		if ctx.Err() != nil || endsRun(err) || !r.retry.ShouldRetry(err, attempt) {
			return r.fail(result, err)
		}
		if sleepErr := r.sleep(ctx, r.retry.Backoff(attempt)); sleepErr != nil {
			return r.fail(result, failure.Wrap(failure.ScraperTimeout, agent.Name()+".backoff", sleepErr))
		}
	}
}

func (r *Runner) attempt(ctx context.Context, source string, agent Agent, pc postcode.Postcode) (Attributes, Identity, error) {
	op := agent.Name()
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx, source); err != nil {
			return nil, Identity{}, failure.Wrap(failure.ScraperTimeout, op+".pace", err)
		}
	}

	var id Identity
	if r.identities != nil {
		var ok bool
		if id, ok = r.identities.Acquire(source); !ok {
			return nil, id, failure.Wrap(failure.ScraperBlocked, op+".identity", ErrIdentitiesCooling)
		}
	}

	page, err := agent.Fetch(ctx, pc, id)
	if err != nil {
		return nil, id, classifyFetchError(op+".fetch", err)
	}
	if agent.LooksBlocked(page) {
		if r.identities != nil {
			r.identities.Cooldown(source, id)
		}
		return nil, id, failure.New(failure.ScraperBlocked, op+".fetch", "anti-bot page detected")
	}
	attrs, err := agent.Parse(page)
	if err != nil {
		if failure.IsScraperKind(failure.KindOf(err)) {
			return nil, id, err
		}
		return nil, id, failure.Wrap(failure.ScraperParsingFailure, op+".parse", err)
	}
	return attrs, id, nil
}

func endsRun(err error) bool {
	return errors.Is(err, ErrIdentitiesCooling) || errors.Is(err, ErrFetcherUnavailable)
}

func (r *Runner) fail(result Result, err error) Result {
	result.OK = false
	result.Err = err
	result.Kind = failure.KindOf(err)
	if result.Kind == failure.KindUnknown {
		result.Kind = failure.ScraperTimeout
	}
	result.RetrievedAt = r.clock.Now()
	return result
}

// classifyFetchError maps transport errors onto scraper failure kinds. Any
// failure to obtain a response is reported as a timeout.
func classifyFetchError(op string, err error) error {
	if kind := failure.KindOf(err); kind != failure.KindUnknown {
		return err
	}
	fe := &failure.Error{Kind: failure.ScraperTimeout, Op: op, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fe.WithDetail("cause", "deadline")
	}
	return fe.WithDetail("cause", "transport")
}
