package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/loremap/internal/schema"
	"github.com/koopa0/loremap/internal/search"
)

type SearchEntriesInput struct {
	Query string `json:"query" jsonschema:"Full-text query across entry names, summaries, and content"`
	Type  string `json:"type,omitempty" jsonschema:"Restrict results to one entry type"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results (default 10, capped at 50)"`
}

type FindRelatedInput struct {
	Slug  string `json:"slug" jsonschema:"Slug of the entry to find neighbors for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5, capped at 25)"`
}

type ValidateReferencesInput struct {
	Slug string `json:"slug,omitempty" jsonschema:"Restrict the check to one entry; empty checks the whole graph including orphan detection"`
}

type GetSchemaInput struct {
	Type string `json:"type" jsonschema:"Entry type: location, faction, npc, event, or culture"`
}

type GetContextPackageInput struct {
	EntryType    string `json:"entry_type" jsonschema:"Entry type the package is assembled for"`
	UserInput    string `json:"user_input" jsonschema:"Raw user text to mine for fields and related entries"`
	ExistingSlug string `json:"existing_slug,omitempty" jsonschema:"Slug of the entry being updated, if any"`
}

func (s *Server) registerQueryTools() error {
	if err := addTool(s, "search_entries",
		"Full-text search across all lore entries with per-field weighting (name > summary > content).",
		s.handleSearchEntries); err != nil {
		return err
	}
	if err := addTool(s, "find_related",
		"Rank the entries most related to a given one, combining graph links (references, shared parent, shared references) with content similarity.",
		s.handleFindRelated); err != nil {
		return err
	}
	if err := addTool(s, "validate_references",
		"Check reference-graph integrity: valid vs broken edges, plus orphaned entries when run globally.",
		s.handleValidateReferences); err != nil {
		return err
	}
	if err := addTool(s, "get_schema",
		"Return the schema for an entry type: category and status enums, metadata template, required fields, and content sections.",
		s.handleGetSchema); err != nil {
		return err
	}
	return addTool(s, "get_context_package",
		"Assemble a context package for an entry in progress: filled fields, missing required fields, related entries, suggested references, and follow-up questions.",
		s.handleGetContextPackage)
}

func (s *Server) handleSearchEntries(_ context.Context, _ *mcp.CallToolRequest, in SearchEntriesInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	results := s.index.Search(in.Query, in.Type, limit)
	if results == nil {
		results = []search.Result{}
	}
	return jsonResult(map[string]any{"results": results})
}

func (s *Server) handleFindRelated(ctx context.Context, _ *mcp.CallToolRequest, in FindRelatedInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	related, err := s.ranker.FindRelated(ctx, in.Slug, limit)
	if err != nil {
		return finish(nil, err)
	}
	if related == nil {
		related = []search.RelatedEntry{}
	}
	return jsonResult(map[string]any{"slug": in.Slug, "related": related})
}

func (s *Server) handleValidateReferences(ctx context.Context, _ *mcp.CallToolRequest, in ValidateReferencesInput) (*mcp.CallToolResult, any, error) {
	report, err := s.store.Validate(ctx, in.Slug)
	return finish(report, err)
}

func (s *Server) handleGetSchema(_ context.Context, _ *mcp.CallToolRequest, in GetSchemaInput) (*mcp.CallToolResult, any, error) {
	sc, ok := schema.Get(in.Type)
	if !ok {
		return errorResult("unsupported entry type: %s", in.Type)
	}
	return jsonResult(map[string]any{"schema": sc})
}

func (s *Server) handleGetContextPackage(ctx context.Context, _ *mcp.CallToolRequest, in GetContextPackageInput) (*mcp.CallToolResult, any, error) {
	pkg, err := s.assembler.AssembleFromInput(ctx, in.EntryType, in.UserInput, in.ExistingSlug)
	if err != nil {
		return errorResult("%v", err)
	}
	return jsonResult(pkg)
}
