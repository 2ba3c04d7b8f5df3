package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/config"
	collyfetcher "github.com/alisufyan143/location-analyzer-v2/internal/fetcher/colly"
	headlessfetcher "github.com/alisufyan143/location-analyzer-v2/internal/fetcher/headless"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper/sources"
)

func testConfig(bundlePath string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Scraper: config.ScraperConfig{
			MaxAttempts:    1,
			TimeoutSeconds: 1,
			Sources:        config.SourcesConfig{TransportTimeoutSeconds: 2},
		},
		Acquisition: config.AcquisitionConfig{DeadlineSeconds: 5},
		Cache:       config.CacheConfig{Backend: config.CacheMemory, TTLHours: 1},
		Artifacts:   config.ArtifactsConfig{Source: config.ArtifactsLocal, Path: bundlePath},
	}
}

func TestBuildServesReadyWithBundle(t *testing.T) {
	t.Parallel()

	cfg := testConfig(filepath.Join("..", "artifact", "testdata", "bundle.json"))
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.True(t, app.Service().Ready())
	require.Equal(t, "2025.11-median-ensemble", app.Bundles().Current().Version)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildMissingBundleLeavesServiceUnready(t *testing.T) {
	t.Parallel()

	cfg := testConfig(filepath.Join(t.TempDir(), "absent.json"))
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.False(t, app.Service().Ready())
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRejectsBadLocalCacheDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig(filepath.Join("..", "artifact", "testdata", "bundle.json"))
	cfg.Cache = config.CacheConfig{Backend: config.CacheLocal, Local: config.LocalCacheConfig{Dir: ""}}
	_, err := build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)

	cfg.Cache.Local.Dir = dir
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildSourcesChains(t *testing.T) {
	t.Parallel()

	sc := config.ScraperConfig{
		TimeoutSeconds: 15,
		Sources: config.SourcesConfig{
			DemographicsTimeoutSeconds: 45,
			IncomeTimeoutSeconds:       30,
			TransportTimeoutSeconds:    60,
		},
	}
	static := collyfetcher.New(collyfetcher.Config{})

	tests := []struct {
		name      string
		rendered  bool
		transport []string
	}{
		{"static only", false, []string{"crystalroof-static"}},
		{"rendered first", true, []string{"crystalroof-rendered", "crystalroof-static"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srcs := buildSources(sc, static, nil)
			if tt.rendered {
				srcs = buildSources(sc, static, headlessfetcher.NewNoop())
			}
			require.Len(t, srcs, 3)

			names := func(i int) []string {
				out := make([]string, 0, len(srcs[i].Chain))
				for _, a := range srcs[i].Chain {
					out = append(out, a.Name())
				}
				return out
			}
			assert.Equal(t, sources.Demographics, srcs[0].Name)
			assert.True(t, srcs[0].Required)
			assert.Equal(t, []string{"nomis", "nomis-outcode"}, names(0))
			assert.Equal(t, sources.Income, srcs[1].Name)
			assert.False(t, srcs[1].Required)
			assert.Equal(t, []string{"doogal", "crystalroof-affluence"}, names(1))
			assert.Equal(t, sources.Transport, srcs[2].Name)
			assert.Equal(t, tt.transport, names(2))
			assert.Equal(t, sc.SourceTimeout(sources.Transport), srcs[2].Timeout)
		})
	}
}

func TestCapFallbacks(t *testing.T) {
	t.Parallel()

	upper := 50000.0
	rules := capFallbacks([]config.CapConfig{{Field: "households", Upper: &upper}})
	require.Len(t, rules, 1)
	assert.Equal(t, "households", rules[0].Field)
	assert.Nil(t, rules[0].Lower)
	assert.Equal(t, 50000.0, *rules[0].Upper)
	assert.Empty(t, capFallbacks(nil))
}
