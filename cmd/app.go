package cmd

import (
	"database/sql"
	"fmt"

	"github.com/civisearch/civisearch/pkg/cache"
	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/cursor"
	"github.com/civisearch/civisearch/pkg/db"
	"github.com/civisearch/civisearch/pkg/normalize"
	"github.com/civisearch/civisearch/pkg/popularity"
	"github.com/civisearch/civisearch/pkg/rank"
	"github.com/civisearch/civisearch/pkg/search"
	"github.com/civisearch/civisearch/pkg/version"
)

// App bundles the long-lived components every command wires the same way:
// the database handle and the search stack built on top of it.
type App struct {
	DB         *sql.DB
	Tracker    *popularity.SQLTracker
	CacheStore cache.Store
	Cache      *cache.Cache
	Policy     *cache.Policy
	Engine     *rank.Engine
	Codec      *cursor.Codec
	Service    *search.Service
}

// buildApp opens the database, applies pending migrations and constructs the
// search stack. The caller owns Close.
func buildApp(cfg *config.Config) (*App, error) {
	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.InitializeDatabase(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	store, err := cache.NewSQLStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating cache store: %w", err)
	}

	policy, err := cache.NewPolicy(cfg.Cache.Tiers)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("building ttl policy: %w", err)
	}

	return &App{
		DB:         conn,
		Tracker:    popularity.NewSQLTracker(conn),
		CacheStore: store,
		Cache:      cache.New(store, cfg.Cache.WaitBudget.Duration),
		Policy:     policy,
		Engine: rank.NewEngine(conn, rank.Options{
			MinResults:          cfg.Search.MinResultsBeforeFallback,
			TrigramThreshold:    cfg.Search.TrigramThreshold,
			TrigramCandidateCap: cfg.Search.TrigramCandidateCap,
			TrigramScanBudget:   cfg.Search.TrigramScanBudget,
		}),
		Codec: cursor.NewCodec(version.RankingVersion),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Corpus returns a writer/reader over the indexed documents.
func (a *App) Corpus() *db.Corpus {
	return db.NewCorpus(a.DB)
}

func newNormalizer(cfg *config.Config) *normalize.Normalizer {
	return normalize.New(cfg.Synonyms.Version, cfg.Synonyms.Terms)
}
