package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/spinloop/config"
	"github.com/mohammad-safakhou/spinloop/internal/bandit"
	"github.com/mohammad-safakhou/spinloop/internal/policystore"
	"github.com/mohammad-safakhou/spinloop/internal/retrieval"
	"github.com/mohammad-safakhou/spinloop/internal/scraper"
	"github.com/mohammad-safakhou/spinloop/internal/store"
	"github.com/mohammad-safakhou/spinloop/internal/vecstore"
	"github.com/mohammad-safakhou/spinloop/internal/workflow"
)

// App holds the wired services for one CLI invocation.
type App struct {
	Config     *config.Config
	Telemetry  *Telemetry
	Store      *store.Store // nil without Postgres
	Redis      *redis.Client
	Policy     bandit.PolicyStore
	Agent      *bandit.Agent
	Collection vecstore.Collection
	Workflow   *workflow.Workflow
	Retrieval  *retrieval.Service

	closers []func() error
}

// NewApp connects the configured backends and builds the services. Without
// Postgres the scrape cache is disabled and approved text is indexed in
// memory for the life of the process.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context) (err error) {
	cfg := app.Config

	if app.Telemetry, err = SetupTelemetry(cfg.Telemetry); err != nil {
		return err
	}
	app.closers = append(app.closers, func() error { return app.Telemetry.Shutdown(context.Background()) })

	if cfg.Storage.Postgres.Configured() {
		dsn, err := BuildPostgresDSN(cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		if app.Store, err = store.NewWithDSN(ctx, dsn); err != nil {
			return err
		}
		app.closers = append(app.closers, app.Store.Close)
	}

	embedder, err := NewEmbedder(cfg.LLM)
	if err != nil {
		return err
	}
	if app.Store != nil && embedder != nil {
		app.Collection = vecstore.NewPG(app.Store, embedder)
	} else {
		log.Printf("[RUNTIME] approved versions are indexed in memory (postgres or embedding provider not configured)")
		app.Collection = vecstore.NewMemory()
	}

	if app.Policy, err = policystore.New(cfg.Policy.Backend, cfg.Policy.Path, cfg.Policy.Keep); err != nil {
		return err
	}
	if c, ok := app.Policy.(io.Closer); ok {
		app.closers = append(app.closers, c.Close)
	}

	metrics, err := bandit.NewMetrics(app.Telemetry.Registry)
	if err != nil {
		return err
	}
	actions := make([]bandit.Action, len(cfg.Retrieval.Actions))
	for i, a := range cfg.Retrieval.Actions {
		actions[i] = bandit.Action(a)
	}
	var rng *rand.Rand
	if cfg.Retrieval.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Retrieval.Seed))
	}
	app.Agent, err = bandit.New(bandit.Options{
		Actions:      actions,
		Epsilon:      cfg.Retrieval.Epsilon,
		LearningRate: cfg.Retrieval.LearningRate,
		Alpha:        cfg.Retrieval.Alpha,
		Rand:         rng,
		Store:        app.Policy,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}
	app.Retrieval, err = retrieval.New(retrieval.Options{
		Agent:          app.Agent,
		Collection:     app.Collection,
		CollectionName: cfg.Retrieval.Collection,
		DefaultResults: cfg.Retrieval.DefaultResults,
	})
	if err != nil {
		return err
	}

	var threads workflow.ThreadStore = workflow.NewMemoryThreadStore()
	if cfg.Workflow.ThreadStore == "redis" {
		if app.Redis, err = RedisConn(ctx, cfg.Storage.Redis); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		app.closers = append(app.closers, app.Redis.Close)
		threads = workflow.NewRedisThreadStore(app.Redis, cfg.Workflow.ThreadTTL)
	}

	providers, err := NewProviders(cfg.LLM)
	if err != nil {
		return err
	}
	opts := workflow.Options{
		Fetcher: scraper.New(scraper.Options{
			Timeout:         cfg.Scraper.Timeout,
			ContentSelector: cfg.Scraper.ContentSelector,
			MaxChars:        cfg.Scraper.MaxChars,
			UserAgent:       cfg.Scraper.UserAgent,
			Screenshot:      cfg.Scraper.Screenshot,
			Permit:          cfg.Scraper.CrawlPolicy.Permits,
		}),
		Threads:         threads,
		Providers:       providers,
		DefaultProvider: cfg.LLM.DefaultProvider,
		Archive:         app.Collection,
		Collection:      cfg.Retrieval.Collection,
	}
	if app.Store != nil {
		opts.Cache = app.Store
	}
	if app.Workflow, err = workflow.New(opts); err != nil {
		return err
	}
	return nil
}

// Close releases every backend in reverse order of acquisition.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
