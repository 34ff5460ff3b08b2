package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/loremap/internal/orchestrator"
)

type HandleTurnInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"Identifier of the conversation; a new one starts an empty capture"`
	Message        string `json:"message" jsonschema:"The user's message for this turn"`
}

type ComposerSignalInput struct {
	ConversationID     string `json:"conversation_id" jsonschema:"Identifier of the conversation"`
	PresentedForReview bool   `json:"presented_for_review" jsonschema:"True if the composer presented an entry for the user's review, false if it kept questioning"`
}

type ApproveEntryInput struct {
	ConversationID string           `json:"conversation_id" jsonschema:"Identifier of the conversation"`
	Fields         map[string]any   `json:"fields,omitempty" jsonschema:"User-confirmed field set; replaces the accumulator wholesale when provided"`
	References     []ReferenceInput `json:"references,omitempty" jsonschema:"Only the suggested references the user explicitly confirmed"`
}

type DiscardEntryInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"Identifier of the conversation"`
}

type statePayload struct {
	State string `json:"state"`
}

func (s *Server) registerConversationTools() error {
	if err := addTool(s, "handle_turn",
		"Process one conversation turn through the lore-capture flow: classify the message, extract schema fields, and assemble a context package. A null context means the turn is not lore-related.",
		s.handleHandleTurn); err != nil {
		return err
	}
	if err := addTool(s, "composer_signal",
		"Record how the composer's turn ended: an entry presented for review moves the conversation to awaiting approval, continued questioning returns it to extraction.",
		s.handleComposerSignal); err != nil {
		return err
	}
	if err := addTool(s, "approve_entry",
		"Commit the conversation's accumulated entry to the store. Idempotent: replaying an approval returns the committed entry without writing. Only confirmed references are persisted.",
		s.handleApproveEntry); err != nil {
		return err
	}
	return addTool(s, "discard_entry",
		"Reject the pending entry and clear the conversation's accumulator. Nothing is written to the store.",
		s.handleDiscardEntry)
}

func (s *Server) handleHandleTurn(ctx context.Context, _ *mcp.CallToolRequest, in HandleTurnInput) (*mcp.CallToolResult, any, error) {
	result, err := s.orchestrator.HandleTurn(ctx, in.ConversationID, in.Message)
	return finish(result, err)
}

func (s *Server) handleComposerSignal(_ context.Context, _ *mcp.CallToolRequest, in ComposerSignalInput) (*mcp.CallToolResult, any, error) {
	state, err := s.orchestrator.ComposerSignal(in.ConversationID, in.PresentedForReview)
	return finish(statePayload{State: state.String()}, err)
}

func (s *Server) handleApproveEntry(ctx context.Context, _ *mcp.CallToolRequest, in ApproveEntryInput) (*mcp.CallToolResult, any, error) {
	entry, warnings, err := s.orchestrator.Approve(ctx, in.ConversationID, orchestrator.ApproveInput{
		Fields:     in.Fields,
		References: toReferences(in.References),
	})
	return finish(entryPayload{Entry: entry, Warnings: nonNilWarnings(warnings)}, err)
}

func (s *Server) handleDiscardEntry(_ context.Context, _ *mcp.CallToolRequest, in DiscardEntryInput) (*mcp.CallToolResult, any, error) {
	state := s.orchestrator.Discard(in.ConversationID)
	return jsonResult(statePayload{State: state.String()})
}
