package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/cache"
	"github.com/alisufyan143/location-analyzer-v2/internal/cache/memory"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}

func (brokenStore) Close() error { return nil }

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "demographics:M1_1AF", cache.Key("demographics", postcode.MustParse("m1 1af")))
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := cache.New(memory.New(), 0, zap.NewNop())
	assert.Equal(t, cache.DefaultTTL, c.TTL())
	pc := postcode.MustParse("M1 1AF")
	ctx := context.Background()

	_, hit := c.Get(ctx, "demographics", pc)
	assert.False(t, hit)

	res := scraper.Result{
		Source:     "demographics",
		Agent:      "nomis",
		Postcode:   pc.String(),
		OK:         true,
		Attempts:   1,
		Attributes: scraper.Attributes{"population": 23405, "white": nil},
	}
	require.NoError(t, c.Put(ctx, pc, res))

	got, hit := c.Get(ctx, "demographics", pc)
	require.True(t, hit)
	assert.Equal(t, "nomis", got.Agent)
	assert.InDelta(t, 23405, got.Attributes["population"], 0)
	assert.Contains(t, got.Attributes, "white")
	assert.Nil(t, got.Attributes["white"])

	_, hit = c.Get(ctx, "income", pc)
	assert.False(t, hit)
}

func TestCacheRejectsFailures(t *testing.T) {
	t.Parallel()

	c := cache.New(memory.New(), time.Hour, nil)
	err := c.Put(context.Background(), postcode.MustParse("M1 1AF"), scraper.Result{Source: "income"})
	require.ErrorIs(t, err, cache.ErrNotCacheable)
}

func TestCacheExpiresByEnvelope(t *testing.T) {
	t.Parallel()

	store := memory.New()
	pc := postcode.MustParse("M1 1AF")
	ctx := context.Background()
	stale := []byte(`{"cached_at":"2020-01-01T00:00:00Z","postcode":"M1 1AF","source":"income","payload":{"source":"income","ok":true}}`)
	require.NoError(t, store.Set(ctx, cache.Key("income", pc), stale, 0))

	_, hit := cache.New(store, time.Hour, nil).Get(ctx, "income", pc)
	assert.False(t, hit)
}

func TestCacheBackendErrorsAreMisses(t *testing.T) {
	t.Parallel()

	c := cache.New(brokenStore{}, time.Hour, zap.NewNop())
	pc := postcode.MustParse("M1 1AF")
	_, hit := c.Get(context.Background(), "income", pc)
	assert.False(t, hit)

	err := c.Put(context.Background(), pc, scraper.Result{Source: "income", OK: true})
	require.Error(t, err)
}
