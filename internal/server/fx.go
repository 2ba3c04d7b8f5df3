// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/acquisition"
	"github.com/alisufyan143/location-analyzer-v2/internal/api"
	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/cache"
	localcache "github.com/alisufyan143/location-analyzer-v2/internal/cache/local"
	memorycache "github.com/alisufyan143/location-analyzer-v2/internal/cache/memory"
	pgcache "github.com/alisufyan143/location-analyzer-v2/internal/cache/postgres"
	rediscache "github.com/alisufyan143/location-analyzer-v2/internal/cache/redis"
	"github.com/alisufyan143/location-analyzer-v2/internal/clock/system"
	"github.com/alisufyan143/location-analyzer-v2/internal/config"
	collyfetcher "github.com/alisufyan143/location-analyzer-v2/internal/fetcher/colly"
	headlessfetcher "github.com/alisufyan143/location-analyzer-v2/internal/fetcher/headless"
	"github.com/alisufyan143/location-analyzer-v2/internal/id/uuid"
	"github.com/alisufyan143/location-analyzer-v2/internal/logging"
	"github.com/alisufyan143/location-analyzer-v2/internal/pipeline"
	"github.com/alisufyan143/location-analyzer-v2/internal/preprocess"
	memorypublisher "github.com/alisufyan143/location-analyzer-v2/internal/publisher/memory"
	gcppublisher "github.com/alisufyan143/location-analyzer-v2/internal/publisher/pubsub"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper/sources"
)

// Publisher is the event sink owned by the App.
type Publisher interface {
	pipeline.Publisher
	io.Closer
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *pipeline.Service
	bundles   *artifact.Store
	cache     *cache.Cache
	publisher Publisher
	headless  *headlessfetcher.Fetcher
	gcs       *artifact.GCSLoader
}

// Service returns the prediction pipeline.
func (a *App) Service() *pipeline.Service { return a.service }

// Bundles returns the artifact store.
func (a *App) Bundles() *artifact.Store { return a.bundles }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Artifacts.Watch && a.cfg.Artifacts.Source == config.ArtifactsLocal {
		go func() {
			err := artifact.Watch(ctx, a.cfg.Artifacts.Path, a.bundles, artifact.DefaultDebounce, a.logger.Named("artifact_watch"))
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("bundle watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

// Build creates the application's dependencies. A bundle that fails to load
// is logged and leaves the service unready rather than aborting startup.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("artifact_source", cfg.Artifacts.Source),
	)

	if err := setupBundles(ctx, app); err != nil {
		return nil, err
	}
	if err := setupCache(ctx, app); err != nil {
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		return nil, err
	}

	clock := system.New()
	orch, err := setupAcquisition(app, clock)
	if err != nil {
		return nil, err
	}

	app.service, err = pipeline.New(pipeline.Deps{
		Acquirer:  orch,
		Bundles:   app.bundles,
		Engine:    preprocess.New(capFallbacks(cfg.Transforms.Capping)),
		Publisher: app.publisher,
		IDs:       uuid.New(),
		Clock:     clock,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, api.Options{
		RequestTimeout: cfg.RequestTimeout(),
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logger.Named("api"))
	return app, nil
}

func setupBundles(ctx context.Context, app *App) error {
	var loader artifact.Loader
	switch app.cfg.Artifacts.Source {
	case config.ArtifactsGCS:
		gcs, err := artifact.NewGCSLoader(ctx, artifact.GCSConfig{
			Bucket: app.cfg.Artifacts.Bucket,
			Object: app.cfg.Artifacts.Object,
		})
		if err != nil {
			return fmt.Errorf("gcs loader init failed: %w", err)
		}
		app.gcs = gcs
		loader = gcs
	default:
		loader = artifact.FileLoader{Path: app.cfg.Artifacts.Path}
	}
	app.bundles = artifact.NewStore(loader, app.logger.Named("artifact"), preprocess.CheckSatisfiable)
	if _, err := app.bundles.Reload(ctx); err != nil {
		app.logger.Error("initial bundle load failed; serving unready", zap.String("origin", loader.Origin()), zap.Error(err))
	}
	return nil
}

func setupCache(ctx context.Context, app *App) error {
	var (
		store cache.Store
		err   error
	)
	switch app.cfg.Cache.Backend {
	case config.CacheRedis:
		store, err = rediscache.New(ctx, rediscache.Config{
			URL:          app.cfg.Cache.Redis.URL,
			KeyPrefix:    app.cfg.Cache.Redis.KeyPrefix,
			PoolSize:     app.cfg.Cache.Redis.PoolSize,
			MinIdleConns: app.cfg.Cache.Redis.MinIdleConns,
		})
	case config.CachePostgres:
		store, err = pgcache.New(ctx, pgcache.Config{
			DSN:      app.cfg.Cache.Postgres.DSN,
			Table:    app.cfg.Cache.Postgres.Table,
			MaxConns: app.cfg.Cache.Postgres.MaxConns,
		})
	case config.CacheLocal:
		store, err = localcache.New(app.cfg.Cache.Local.Dir)
	default:
		store = memorycache.New()
	}
	if err != nil {
		return fmt.Errorf("%s cache init failed: %w", app.cfg.Cache.Backend, err)
	}
	app.cache = cache.New(store, app.cfg.CacheTTL(), app.logger.Named("cache"))
	app.logger.Info("scrape cache initialized",
		zap.String("backend", app.cfg.Cache.Backend),
		zap.Duration("ttl", app.cfg.CacheTTL()),
	)
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupAcquisition(app *App, clock scraper.Clock) (*acquisition.Orchestrator, error) {
	sc := app.cfg.Scraper
	identities, err := scraper.NewIdentityPool(scraper.IdentityPoolConfig{
		UserAgents:     sc.UserAgents,
		Proxies:        sc.Proxies,
		Cooldown:       sc.IdentityCooldown(),
		AcceptLanguage: sc.AcceptLanguage,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("identity pool init failed: %w", err)
	}
	pacer := scraper.NewPacer(scraper.PacerConfig{
		RPS:      sc.RPS,
		Burst:    sc.Burst,
		MinDelay: sc.MinDelay(),
		MaxDelay: sc.MaxDelay(),
	})
	retry := scraper.NewExponentialRetryPolicy(sc.MaxAttempts, sc.BackoffBase(), sc.BackoffMax())
	runner := scraper.NewRunner(identities, pacer, retry, clock, app.logger.Named("scraper"))

	static := collyfetcher.New(collyfetcher.Config{Timeout: sc.FetchTimeout()})
	app.logger.Info("using colly fetcher", zap.Duration("timeout", sc.FetchTimeout()))
	var rendered scraper.Fetcher
	if sc.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       sc.Headless.MaxParallel,
			NavigationTimeout: time.Duration(sc.Headless.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, rendered transport agent disabled", zap.Error(err))
			rendered = headlessfetcher.NewNoop()
		} else {
			app.headless = hf
			rendered = hf
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", sc.Headless.MaxParallel))
		}
	}

	orch, err := acquisition.New(
		buildSources(sc, static, rendered),
		runner,
		app.cache,
		app.cfg.AcquisitionDeadline(),
		app.logger.Named("acquisition"),
	)
	if err != nil {
		return nil, fmt.Errorf("acquisition init failed: %w", err)
	}
	return orch, nil
}

// buildSources lays out every source's fallback chain in priority order.
// A nil rendered fetcher leaves transport on the static agent alone.
func buildSources(sc config.ScraperConfig, static, rendered scraper.Fetcher) []acquisition.Source {
	urls := sc.Sources
	transport := []scraper.Agent{}
	if rendered != nil {
		transport = append(transport, sources.NewCrystalRoofTransport("crystalroof-rendered", rendered, urls.CrystalRoofBaseURL))
	}
	transport = append(transport, sources.NewCrystalRoofTransport("crystalroof-static", static, urls.CrystalRoofBaseURL))

	return []acquisition.Source{
		{
			Name:     sources.Demographics,
			Required: true,
			Timeout:  sc.SourceTimeout(sources.Demographics),
			Chain: []scraper.Agent{
				sources.NewNomis(static, sources.NomisConfig{BaseURL: urls.NomisBaseURL}),
				sources.NewNomis(static, sources.NomisConfig{BaseURL: urls.NomisBaseURL, Scope: sources.ScopeOutcode}),
			},
		},
		{
			Name:    sources.Income,
			Timeout: sc.SourceTimeout(sources.Income),
			Chain: []scraper.Agent{
				sources.NewDoogal(static, urls.DoogalBaseURL),
				sources.NewCrystalRoofAffluence(static, urls.CrystalRoofBaseURL),
			},
		},
		{
			Name:    sources.Transport,
			Timeout: sc.SourceTimeout(sources.Transport),
			Chain:   transport,
		},
	}
}

func capFallbacks(caps []config.CapConfig) []artifact.CapRule {
	rules := make([]artifact.CapRule, 0, len(caps))
	for _, c := range caps {
		rules = append(rules, artifact.CapRule{Field: c.Field, Lower: c.Lower, Upper: c.Upper})
	}
	return rules
}
