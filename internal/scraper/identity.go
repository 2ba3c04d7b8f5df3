package scraper

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mssola/useragent"

	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// DefaultUserAgents is the fingerprint pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

const defaultAcceptLanguage = "en-GB,en;q=0.9"

// Identity is a simulated browser fingerprint used for one fetch.
type Identity struct {
	ID             string
	UserAgent      string
	Browser        string
	BrowserVersion string
	Mobile         bool
	Proxy          string
	AcceptLanguage string
}

// Headers returns the request headers that present this identity.
func (id Identity) Headers() http.Header {
	h := http.Header{}
	if id.UserAgent != "" {
		h.Set("User-Agent", id.UserAgent)
	}
	lang := id.AcceptLanguage
	if lang == "" {
		lang = defaultAcceptLanguage
	}
	h.Set("Accept-Language", lang)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return h
}

// IdentityPoolConfig configures an IdentityPool.
type IdentityPoolConfig struct {
	UserAgents     []string
	Proxies        []string
	Cooldown       time.Duration
	AcceptLanguage string
}

// IdentityPool hands out identities per source. An identity that triggered a
// block is not handed out again for that source until its cooldown expires.
type IdentityPool struct {
	mu         sync.Mutex
	identities []Identity
	cooldown   time.Duration
	coolUntil  map[string]map[string]time.Time
	lastUsed   map[string]string
	clock      Clock
}

// NewIdentityPool validates the configured user agents and builds the pool.
func NewIdentityPool(cfg IdentityPoolConfig, clock Clock) (*IdentityPool, error) {
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	proxies := cfg.Proxies
	if len(proxies) == 0 {
		proxies = []string{""}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if clock == nil {
		clock = realClock{}
	}

	var identities []Identity
	for i, raw := range agents {
		raw = strings.TrimSpace(raw)
		ua := useragent.New(raw)
		if raw == "" || ua.Bot() || ua.Mozilla() == "" {
			return nil, fmt.Errorf("user agent %d is not a browser fingerprint: %q", i, raw)
		}
		name, version := ua.Browser()
		for j, proxy := range proxies {
			id := fmt.Sprintf("ua%d", i)
			if proxy != "" {
				id = fmt.Sprintf("ua%d@p%d", i, j)
			}
			identities = append(identities, Identity{
				ID:             id,
				UserAgent:      raw,
				Browser:        name,
				BrowserVersion: version,
				Mobile:         ua.Mobile(),
				Proxy:          strings.TrimSpace(proxy),
				AcceptLanguage: cfg.AcceptLanguage,
			})
		}
	}

	return &IdentityPool{
		identities: identities,
		cooldown:   cfg.Cooldown,
		coolUntil:  make(map[string]map[string]time.Time),
		lastUsed:   make(map[string]string),
		clock:      clock,
	}, nil
}

// Size returns the number of identities in the pool.
func (p *IdentityPool) Size() int {
	return len(p.identities)
}

// Acquire picks an identity for source, preferring one that was not the last
// used for it. Identities cooling down for source are never returned; ok is
// false when all of them are.
func (p *IdentityPool) Acquire(source string) (id Identity, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	cooling := p.coolUntil[source]
	last := p.lastUsed[source]

	var fresh, reusable []int
	for i, id := range p.identities {
		if until, ok := cooling[id.ID]; ok && now.Before(until) {
			continue
		}
		if id.ID == last {
			reusable = append(reusable, i)
			continue
		}
		fresh = append(fresh, i)
	}

	var chosen Identity
	switch {
	case len(fresh) > 0:
		chosen = p.identities[fresh[rand.IntN(len(fresh))]]
	case len(reusable) > 0:
		chosen = p.identities[reusable[0]]
	default:
		return Identity{}, false
	}
	p.lastUsed[source] = chosen.ID
	return chosen, true
}

// Cooldown marks id as blocked for source.
func (p *IdentityPool) Cooldown(source string, id Identity) {
	if id.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.coolUntil[source] == nil {
		p.coolUntil[source] = make(map[string]time.Time)
	}
	p.coolUntil[source][id.ID] = p.clock.Now().Add(p.cooldown)
	telemetry.ObserveIdentityCooldown(source)
}

// Available returns how many identities source may use right now.
func (p *IdentityPool) Available(source string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	n := 0
	for _, id := range p.identities {
		if until, ok := p.coolUntil[source][id.ID]; ok && now.Before(until) {
			continue
		}
		n++
	}
	return n
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
