package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/loremap/internal/app"
	"github.com/koopa0/loremap/internal/config"
	"github.com/koopa0/loremap/internal/export"
)

var (
	exportRelated   bool
	exportOutDir    string
	exportOverrides string
)

var exportCmd = &cobra.Command{
	Use:   "export <slug> [slug...]",
	Short: "Export lore entries as Foundry VTT JSON files",
	Long: `export writes one fvtt-JournalEntry-<slug>.json per entry plus a
manifest.json recording the Foundry ID assigned to each slug. Feed the
manifest's id_map back via --id-overrides on later exports so documents
keep linking to entries already imported into the world.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, args)
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportRelated, "related", false,
		"also export every entry the named entries reference (one hop)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", ".",
		"directory to write the exported files into")
	exportCmd.Flags().StringVar(&exportOverrides, "id-overrides", "",
		"JSON file mapping slugs to Foundry IDs of already-imported entries")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, slugs []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	overrides, err := loadOverrides(exportOverrides)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, app.Options{})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	result, err := exportBatch(ctx, a.Resolver, slugs, overrides)
	if err != nil {
		return err
	}
	if len(result.Documents) == 0 {
		return fmt.Errorf("no entries found for %v", slugs)
	}

	if err := os.MkdirAll(exportOutDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for _, doc := range result.Documents {
		path := filepath.Join(exportOutDir, doc.Filename)
		if err := os.WriteFile(path, []byte(doc.JSON), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}

	manifestPath := filepath.Join(exportOutDir, "manifest.json")
	manifest, err := json.MarshalIndent(result.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d entries)\n", manifestPath, len(result.Documents))
	return nil
}

// exportBatch picks the export mode: a single slug with --related pulls in
// its referenced entries, everything else is a plain batch.
func exportBatch(ctx context.Context, resolver *export.Resolver, slugs []string, overrides map[string]string) (*export.BatchResult, error) {
	if exportRelated && len(slugs) == 1 {
		return resolver.ExportWithRelated(ctx, slugs[0], overrides)
	}
	if exportRelated {
		// Walk each entry's neighborhood, merging into one batch.
		seen := make(map[string]bool)
		var expanded []string
		for _, slug := range slugs {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			expanded = append(expanded, slug)

			refs, err := resolver.ExportWithRelated(ctx, slug, overrides)
			if err != nil {
				return nil, err
			}
			for _, doc := range refs.Documents {
				if !seen[doc.Slug] {
					seen[doc.Slug] = true
					expanded = append(expanded, doc.Slug)
				}
			}
		}
		slugs = expanded
	}
	return resolver.ExportBatch(ctx, slugs, overrides)
}

func loadOverrides(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading id overrides: %w", err)
	}
	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing id overrides: %w", err)
	}
	return overrides, nil
}
