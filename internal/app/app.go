// Package app wires the application together: database, search index,
// store, ranker, orchestrator, and export resolver. Commands call Setup once
// and work against the container.
package app

import (
	"database/sql"

	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/loremap/internal/config"
	"github.com/koopa0/loremap/internal/export"
	"github.com/koopa0/loremap/internal/log"
	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/orchestrator"
	"github.com/koopa0/loremap/internal/search"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit       *genkit.Genkit
	DB           *sql.DB
	Store        *lore.Store
	Index        *search.Index
	Ranker       *search.Ranker
	Assembler    *orchestrator.Assembler
	Orchestrator *orchestrator.Orchestrator
	Resolver     *export.Resolver
}

// Close releases held resources.
func (a *App) Close() error {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return err
		}
		a.Logger.Debug("database closed")
	}
	return nil
}
