package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/loremap/internal/lore"
)

// ReferenceInput is one outbound reference in a create or update call.
type ReferenceInput struct {
	TargetSlug   string `json:"target_slug" jsonschema:"Slug of the referenced entry (may not exist yet)"`
	TargetType   string `json:"target_type" jsonschema:"Entry type of the referenced entry"`
	Relationship string `json:"relationship,omitempty" jsonschema:"Free-form relationship description (e.g. works_for, located_in)"`
}

type CreateEntryInput struct {
	Type       string           `json:"type" jsonschema:"Entry type: location, faction, npc, event, or culture"`
	Name       string           `json:"name" jsonschema:"Display name; the slug is derived from it"`
	Category   string           `json:"category" jsonschema:"Category from the entry type's enum"`
	Status     string           `json:"status" jsonschema:"Status from the entry type's enum"`
	Summary    string           `json:"summary,omitempty" jsonschema:"One-paragraph summary"`
	Content    string           `json:"content" jsonschema:"Full markdown content"`
	Metadata   map[string]any   `json:"metadata,omitempty" jsonschema:"Type-specific metadata; unknown keys are kept but flagged"`
	References []ReferenceInput `json:"references,omitempty" jsonschema:"Outbound references to other entries"`
	ParentSlug string           `json:"parent_slug,omitempty" jsonschema:"Slug of the parent entry; must exist"`
}

type GetEntryInput struct {
	Slug string `json:"slug" jsonschema:"Slug of the entry to fetch"`
}

// UpdateFields carries the partial update; absent fields keep their current
// value, a non-null references list replaces the full outbound edge set.
type UpdateFields struct {
	Name       *string          `json:"name,omitempty" jsonschema:"New display name (slug stays unchanged)"`
	Category   *string          `json:"category,omitempty" jsonschema:"New category"`
	Status     *string          `json:"status,omitempty" jsonschema:"New status"`
	ParentSlug *string          `json:"parent_slug,omitempty" jsonschema:"New parent slug; must exist"`
	Summary    *string          `json:"summary,omitempty" jsonschema:"New summary"`
	Content    *string          `json:"content,omitempty" jsonschema:"New markdown content"`
	Metadata   map[string]any   `json:"metadata,omitempty" jsonschema:"Replacement metadata map"`
	References []ReferenceInput `json:"references,omitempty" jsonschema:"Replacement outbound reference set"`
}

type UpdateEntryInput struct {
	Slug    string       `json:"slug" jsonschema:"Slug of the entry to update"`
	Updates UpdateFields `json:"updates" jsonschema:"Fields to change"`
}

type DeleteEntryInput struct {
	Slug string `json:"slug" jsonschema:"Slug of the entry to delete"`
}

type ListEntriesInput struct {
	Type       string `json:"type,omitempty" jsonschema:"Filter by entry type"`
	ParentSlug string `json:"parent_slug,omitempty" jsonschema:"Filter by parent slug"`
}

type entryPayload struct {
	Entry    *lore.Entry    `json:"entry"`
	Warnings []lore.Warning `json:"warnings"`
}

type entryDetailPayload struct {
	Entry        *lore.Entry      `json:"entry"`
	References   []lore.Reference `json:"references"`
	ReferencedBy []lore.Reference `json:"referenced_by"`
}

func (s *Server) registerEntryTools() error {
	if err := addTool(s, "create_entry",
		"Create a lore entry. Validates taxonomy, derives a unique slug from the name, and reports warnings for dangling references and unknown metadata keys.",
		s.handleCreateEntry); err != nil {
		return err
	}
	if err := addTool(s, "get_entry",
		"Fetch a lore entry by slug, including its outbound references and the entries that reference it.",
		s.handleGetEntry); err != nil {
		return err
	}
	if err := addTool(s, "update_entry",
		"Partially update a lore entry. Omitted fields keep their values; a provided references list replaces the full outbound edge set.",
		s.handleUpdateEntry); err != nil {
		return err
	}
	if err := addTool(s, "delete_entry",
		"Delete a lore entry by slug. Inbound references are left in place and reported as orphaned.",
		s.handleDeleteEntry); err != nil {
		return err
	}
	return addTool(s, "list_entries",
		"List entry summaries, optionally filtered by type and/or parent slug, newest first.",
		s.handleListEntries)
}

func (s *Server) handleCreateEntry(ctx context.Context, _ *mcp.CallToolRequest, in CreateEntryInput) (*mcp.CallToolResult, any, error) {
	entry, warnings, err := s.store.Create(ctx, lore.CreateInput{
		Type:       in.Type,
		Name:       in.Name,
		Category:   in.Category,
		Status:     in.Status,
		Summary:    in.Summary,
		Content:    in.Content,
		Metadata:   in.Metadata,
		References: toReferences(in.References),
		ParentSlug: in.ParentSlug,
	})
	return finish(entryPayload{Entry: entry, Warnings: nonNilWarnings(warnings)}, err)
}

func (s *Server) handleGetEntry(ctx context.Context, _ *mcp.CallToolRequest, in GetEntryInput) (*mcp.CallToolResult, any, error) {
	entry, err := s.store.Get(ctx, in.Slug)
	if err != nil {
		return finish(nil, err)
	}
	refs, err := s.store.EdgesFrom(ctx, in.Slug)
	if err != nil {
		return nil, nil, err
	}
	backRefs, err := s.store.EdgesTo(ctx, in.Slug)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(entryDetailPayload{
		Entry:        entry,
		References:   refs,
		ReferencedBy: backRefs,
	})
}

func (s *Server) handleUpdateEntry(ctx context.Context, _ *mcp.CallToolRequest, in UpdateEntryInput) (*mcp.CallToolResult, any, error) {
	update := lore.UpdateInput{
		Name:       in.Updates.Name,
		Category:   in.Updates.Category,
		Status:     in.Updates.Status,
		ParentSlug: in.Updates.ParentSlug,
		Summary:    in.Updates.Summary,
		Content:    in.Updates.Content,
		Metadata:   in.Updates.Metadata,
	}
	if in.Updates.References != nil {
		update.References = toReferences(in.Updates.References)
	}
	entry, warnings, err := s.store.Update(ctx, in.Slug, update)
	return finish(entryPayload{Entry: entry, Warnings: nonNilWarnings(warnings)}, err)
}

func (s *Server) handleDeleteEntry(ctx context.Context, _ *mcp.CallToolRequest, in DeleteEntryInput) (*mcp.CallToolResult, any, error) {
	result, err := s.store.Delete(ctx, in.Slug)
	return finish(result, err)
}

func (s *Server) handleListEntries(ctx context.Context, _ *mcp.CallToolRequest, in ListEntriesInput) (*mcp.CallToolResult, any, error) {
	entries, err := s.store.List(ctx, in.Type, in.ParentSlug)
	if err != nil {
		return finish(nil, err)
	}
	return jsonResult(map[string]any{"entries": entries})
}

func toReferences(inputs []ReferenceInput) []lore.Reference {
	if inputs == nil {
		return nil
	}
	refs := make([]lore.Reference, 0, len(inputs))
	for _, in := range inputs {
		refs = append(refs, lore.Reference{
			TargetSlug:   in.TargetSlug,
			TargetType:   in.TargetType,
			Relationship: in.Relationship,
		})
	}
	return refs
}

// nonNilWarnings keeps the warnings field a JSON array even when empty.
func nonNilWarnings(warnings []lore.Warning) []lore.Warning {
	if warnings == nil {
		return []lore.Warning{}
	}
	return warnings
}
