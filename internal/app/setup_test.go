package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/loremap/internal/config"
	"github.com/koopa0/loremap/internal/lore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabasePath:      filepath.Join(t.TempDir(), "loremap.db"),
		ModelName:         config.DefaultModelName,
		ClassifierTimeout: config.DefaultClassifierTimeout,
		ClassifierRate:    config.DefaultClassifierRate,
		LogLevel:          "error",
	}
}

func TestSetupWiresComponents(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Setup(ctx, cfg, Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Index)
	require.NotNil(t, a.Ranker)
	require.NotNil(t, a.Assembler)
	require.NotNil(t, a.Resolver)

	// Model-backed components stay off unless requested.
	assert.Nil(t, a.Genkit)
	assert.Nil(t, a.Orchestrator)
}

func TestSetupRebuildsIndexFromStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Setup(ctx, cfg, Options{})
	require.NoError(t, err)

	_, _, err = a.Store.Create(ctx, lore.CreateInput{
		Type:     "location",
		Name:     "Seicoe Station",
		Category: "station",
		Status:   "active",
		Summary:  "Trade hub on the outer rim.",
		Content:  "Orbital habitat over the belt.",
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// A fresh Setup against the same file must see the entry in its index.
	reopened, err := Setup(ctx, cfg, Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	results := reopened.Index.Search("seicoe", "", 5)
	require.Len(t, results, 1)
	assert.Equal(t, "seicoe-station", results[0].Entry.Slug)
}

func TestSetupRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "loud"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Setup(ctx, cfg, Options{})
	require.Error(t, err)
}
