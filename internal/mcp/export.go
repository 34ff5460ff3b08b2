package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/loremap/internal/export"
)

type ExportToFoundryInput struct {
	Slug           string            `json:"slug" jsonschema:"Slug of the lore entry to export"`
	IncludeRelated bool              `json:"include_related,omitempty" jsonschema:"Also export every entry this one references (one hop)"`
	IDOverrides    map[string]string `json:"id_overrides,omitempty" jsonschema:"Map of slug to Foundry ID for entries already imported into the target world"`
}

type ExportBatchInput struct {
	Slugs       []string          `json:"slugs" jsonschema:"Slugs of the lore entries to export"`
	IDOverrides map[string]string `json:"id_overrides,omitempty" jsonschema:"Map of slug to Foundry ID for entries already imported into the target world"`
}

type GetFoundrySchemaInput struct {
	EntryType string `json:"entry_type" jsonschema:"One of npc, location, faction, event, culture"`
}

func (s *Server) registerExportTools() error {
	if err := addTool(s, "export_to_foundry",
		"Export a lore entry as Foundry VTT-importable JSON. With include_related, also exports every entry it references and returns a batch with a shared manifest.",
		s.handleExportToFoundry); err != nil {
		return err
	}
	if err := addTool(s, "export_batch_to_foundry",
		"Export multiple lore entries as Foundry VTT-importable JSON with a unified manifest. Missing slugs are skipped.",
		s.handleExportBatch); err != nil {
		return err
	}
	return addTool(s, "get_foundry_schema",
		"Return the Foundry document structure and lore-field-to-Foundry-field mapping for an entry type.",
		s.handleGetFoundrySchema)
}

func (s *Server) handleExportToFoundry(ctx context.Context, _ *mcp.CallToolRequest, in ExportToFoundryInput) (*mcp.CallToolResult, any, error) {
	if in.IncludeRelated {
		result, err := s.resolver.ExportWithRelated(ctx, in.Slug, in.IDOverrides)
		return finish(result, err)
	}
	doc, err := s.resolver.ExportEntry(ctx, in.Slug, in.IDOverrides)
	return finish(doc, err)
}

func (s *Server) handleExportBatch(ctx context.Context, _ *mcp.CallToolRequest, in ExportBatchInput) (*mcp.CallToolResult, any, error) {
	result, err := s.resolver.ExportBatch(ctx, in.Slugs, in.IDOverrides)
	return finish(result, err)
}

func (s *Server) handleGetFoundrySchema(_ context.Context, _ *mcp.CallToolRequest, in GetFoundrySchemaInput) (*mcp.CallToolResult, any, error) {
	info, err := export.GetSchemaInfo(in.EntryType)
	return finish(info, err)
}
