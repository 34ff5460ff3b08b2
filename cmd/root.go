// Package cmd holds the loremap CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loremap",
	Short: "Schema-validated worldbuilding store with an MCP tool surface",
	Long: `loremap keeps campaign lore (locations, factions, NPCs, events,
cultures) in a single SQLite file, tracks the references between entries,
and exposes every operation as an MCP tool for AI-assisted worldbuilding.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
