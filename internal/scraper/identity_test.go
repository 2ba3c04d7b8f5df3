package scraper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewIdentityPoolRejectsBots(t *testing.T) {
	t.Parallel()

	_, err := NewIdentityPool(IdentityPoolConfig{
		UserAgents: []string{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"},
	}, nil)
	require.Error(t, err)

	_, err = NewIdentityPool(IdentityPoolConfig{UserAgents: []string{"curl/8.4.0"}}, nil)
	require.Error(t, err)
}

func TestNewIdentityPoolCrossesProxies(t *testing.T) {
	t.Parallel()

	pool, err := NewIdentityPool(IdentityPoolConfig{
		UserAgents: DefaultUserAgents[:2],
		Proxies:    []string{"http://proxy-a:8080", "http://proxy-b:8080"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 4, pool.Size())

	id, ok := pool.Acquire("income")
	require.True(t, ok)
	assert.NotEmpty(t, id.Proxy)
	assert.NotEmpty(t, id.Browser)
	assert.Equal(t, id.UserAgent, id.Headers().Get("User-Agent"))
	assert.Equal(t, "en-GB,en;q=0.9", id.Headers().Get("Accept-Language"))
}

func TestIdentityPoolMobileDetection(t *testing.T) {
	t.Parallel()

	pool, err := NewIdentityPool(IdentityPoolConfig{UserAgents: DefaultUserAgents[4:5]}, nil)
	require.NoError(t, err)
	id, ok := pool.Acquire("transport")
	require.True(t, ok)
	assert.True(t, id.Mobile)
}

func TestIdentityCooldownIsPerSource(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	pool, err := NewIdentityPool(IdentityPoolConfig{UserAgents: DefaultUserAgents[:2], Cooldown: time.Minute}, clock)
	require.NoError(t, err)

	blocked, ok := pool.Acquire("transport")
	require.True(t, ok)
	pool.Cooldown("transport", blocked)

	for i := 0; i < 10; i++ {
		id, ok := pool.Acquire("transport")
		require.True(t, ok)
		assert.NotEqual(t, blocked.ID, id.ID)
	}
	assert.Equal(t, 1, pool.Available("transport"))
	assert.Equal(t, 2, pool.Available("income"))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, pool.Available("transport"))
}

func TestIdentityPoolNeverReturnsCoolingIdentity(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	pool, err := NewIdentityPool(IdentityPoolConfig{Cooldown: time.Minute}, clock)
	require.NoError(t, err)

	for i := 0; i < pool.Size(); i++ {
		id, ok := pool.Acquire("transport")
		require.True(t, ok)
		pool.Cooldown("transport", id)
		clock.Advance(time.Second)
	}
	require.Equal(t, 0, pool.Available("transport"))

	id, ok := pool.Acquire("transport")
	assert.False(t, ok)
	assert.Empty(t, id.ID)

	_, ok = pool.Acquire("income")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = pool.Acquire("transport")
	assert.True(t, ok)
}

func TestIdentityPoolAvoidsImmediateReuse(t *testing.T) {
	t.Parallel()

	pool, err := NewIdentityPool(IdentityPoolConfig{UserAgents: DefaultUserAgents[:2]}, nil)
	require.NoError(t, err)

	prev, _ := pool.Acquire("s")
	for i := 0; i < 10; i++ {
		next, ok := pool.Acquire("s")
		require.True(t, ok)
		assert.NotEqual(t, prev.ID, next.ID)
		prev = next
	}
}
