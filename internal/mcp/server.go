// Package mcp exposes every lore operation as a named MCP tool.
//
// Handlers are thin: they translate tool input into a store/search/export
// call and marshal the result as JSON text content. Domain failures
// (validation, unknown slug, unsupported type) come back as IsError results
// so the calling agent can react; anything else propagates as a protocol
// error.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/loremap/internal/export"
	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/orchestrator"
	"github.com/koopa0/loremap/internal/search"
)

// Config holds MCP server identity.
type Config struct {
	Name    string
	Version string
}

// Deps collects the components the tool handlers call into.
type Deps struct {
	Store        *lore.Store
	Index        *search.Index
	Ranker       *search.Ranker
	Assembler    *orchestrator.Assembler
	Orchestrator *orchestrator.Orchestrator
	Resolver     *export.Resolver
	Logger       *slog.Logger
}

// Server wraps the MCP SDK server and the lore components behind it.
type Server struct {
	mcpServer    *mcp.Server
	store        *lore.Store
	index        *search.Index
	ranker       *search.Ranker
	assembler    *orchestrator.Assembler
	orchestrator *orchestrator.Orchestrator
	resolver     *export.Resolver
	logger       *slog.Logger
}

// NewServer creates an MCP server with all lore tools registered.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if deps.Store == nil || deps.Index == nil || deps.Ranker == nil ||
		deps.Assembler == nil || deps.Orchestrator == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("all dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:        deps.Store,
		index:        deps.Index,
		ranker:       deps.Ranker,
		assembler:    deps.Assembler,
		orchestrator: deps.Orchestrator,
		resolver:     deps.Resolver,
		logger:       logger.With("component", "mcp"),
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return s, nil
}

// Run serves the MCP protocol on the given transport. Blocks until the
// transport closes or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() error {
	registrations := []func() error{
		s.registerEntryTools,
		s.registerQueryTools,
		s.registerConversationTools,
		s.registerExportTools,
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

// addTool infers the input schema from In and registers the handler.
func addTool[In any](s *Server, name, description string, handler mcp.ToolHandlerFor[In, any]) error {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", name, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}, handler)
	return nil
}

// jsonResult marshals v as indented JSON text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(format string, args ...any) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}, nil, nil
}

// domainError reports whether err is an expected domain failure that should
// surface to the agent as an IsError result rather than abort the call.
func domainError(err error) bool {
	var validation *lore.ValidationError
	var unsupported *export.UnsupportedTypeError
	return errors.Is(err, lore.ErrNotFound) ||
		errors.Is(err, orchestrator.ErrConversationState) ||
		errors.As(err, &validation) ||
		errors.As(err, &unsupported)
}

// finish routes an operation outcome: domain failures become IsError
// results, system failures propagate as protocol errors, successes marshal
// the payload.
func finish(v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		if domainError(err) {
			return errorResult("%v", err)
		}
		return nil, nil, err
	}
	return jsonResult(v)
}
