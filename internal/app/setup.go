package app

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/koopa0/loremap/internal/config"
	"github.com/koopa0/loremap/internal/database"
	"github.com/koopa0/loremap/internal/export"
	"github.com/koopa0/loremap/internal/log"
	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/orchestrator"
	"github.com/koopa0/loremap/internal/search"
)

// Options tunes Setup.
type Options struct {
	// WithModel also initializes genkit and the model-backed classifier.
	// Commands that never classify (export, version) leave it off so they
	// run without a GEMINI_API_KEY.
	WithModel bool
}

// Setup opens the database, runs migrations, rebuilds the search index from
// the stored entries, and wires every component. Call Close on the returned
// App to release resources.
func Setup(ctx context.Context, cfg *config.Config, opts Options) (_ *App, retErr error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.DB = db

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	a.Index = search.NewIndex()
	a.Store = lore.New(db, a.Index, logger)

	entries, err := a.Store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entries for index rebuild: %w", err)
	}
	a.Index.Rebuild(entries)
	logger.Info("search index rebuilt", "entries", len(entries))

	a.Ranker = search.NewRanker(a.Store, a.Index, logger)
	a.Assembler = orchestrator.NewAssembler(a.Index, a.Ranker, logger)
	a.Resolver = export.NewResolver(a.Store, logger)

	if opts.WithModel {
		a.Genkit = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		producer := orchestrator.NewProducer(
			a.Genkit,
			cfg.FullModelName(),
			cfg.ClassifierTimeout,
			rate.NewLimiter(rate.Limit(cfg.ClassifierRate), 1),
			logger,
		)
		a.Orchestrator = orchestrator.New(producer, a.Assembler, a.Store, logger)
	}

	return a, nil
}
