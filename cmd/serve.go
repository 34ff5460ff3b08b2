package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/koopa0/loremap/internal/app"
	"github.com/koopa0/loremap/internal/config"
	"github.com/koopa0/loremap/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `serve speaks the MCP protocol over stdin/stdout. Point an MCP client at
this command to get the full lore tool surface: entry CRUD, search,
relatedness, reference validation, context packages, and Foundry export.`,
	RunE: func(*cobra.Command, []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, app.Options{WithModel: true})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server, err := mcp.NewServer(
		mcp.Config{Name: "loremap", Version: Version},
		mcp.Deps{
			Store:        a.Store,
			Index:        a.Index,
			Ranker:       a.Ranker,
			Assembler:    a.Assembler,
			Orchestrator: a.Orchestrator,
			Resolver:     a.Resolver,
			Logger:       a.Logger,
		},
	)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	a.Logger.Info("MCP server ready", "name", "loremap", "version", Version, "transport", "stdio")

	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	a.Logger.Info("MCP server shut down gracefully")
	return nil
}
