package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/loremap/internal/database"
	"github.com/koopa0/loremap/internal/export"
	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/orchestrator"
	"github.com/koopa0/loremap/internal/schema"
	"github.com/koopa0/loremap/internal/search"
	"github.com/koopa0/loremap/internal/testutil"
)

// offlineClassifier always fails, so the orchestrator runs on its keyword
// heuristics; conversation tests stay deterministic without a model.
type offlineClassifier struct{}

func (offlineClassifier) ClassifyIntent(context.Context, string, string) (orchestrator.Intent, error) {
	return orchestrator.Intent{}, errors.New("model offline")
}

func (offlineClassifier) ExtractFields(context.Context, string, *schema.Schema) (map[string]any, error) {
	return nil, errors.New("model offline")
}

// connectServer wires a full server over an in-memory database and returns a
// connected client session for protocol-level calls.
func connectServer(t *testing.T) (*mcp.ClientSession, *lore.Store) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	logger := testutil.DiscardLogger()
	index := search.NewIndex()
	store := lore.New(db, index, logger)
	ranker := search.NewRanker(store, index, logger)
	assembler := orchestrator.NewAssembler(index, ranker, logger)
	orch := orchestrator.New(offlineClassifier{}, assembler, store, logger)
	resolver := export.NewResolver(store, logger)

	server, err := NewServer(
		Config{Name: "loremap", Version: "test"},
		Deps{
			Store:        store,
			Index:        index,
			Ranker:       ranker,
			Assembler:    assembler,
			Orchestrator: orch,
			Resolver:     resolver,
			Logger:       logger,
		},
	)
	require.NoError(t, err)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession, store
}

// call invokes a tool and decodes its JSON text content.
func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	require.False(t, result.IsError, "CallTool(%s) returned error result: %v", name, result.Content)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content[0] type = %T", result.Content[0])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload), "text: %s", text.Text)
	return payload
}

// callExpectError invokes a tool and requires an IsError result.
func callExpectError(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	require.True(t, result.IsError, "CallTool(%s) succeeded, want error result", name)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListTools(t *testing.T) {
	session, _ := connectServer(t)

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, "tool %q has empty description", tool.Name)
	}
	sort.Strings(names)

	want := []string{
		"approve_entry",
		"composer_signal",
		"create_entry",
		"delete_entry",
		"discard_entry",
		"export_batch_to_foundry",
		"export_to_foundry",
		"find_related",
		"get_context_package",
		"get_entry",
		"get_foundry_schema",
		"get_schema",
		"handle_turn",
		"list_entries",
		"search_entries",
		"update_entry",
		"validate_references",
	}
	assert.Equal(t, want, names)
}

func TestCreateAndGetEntry(t *testing.T) {
	session, _ := connectServer(t)

	created := call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Vera Callis",
		"category": "leader",
		"status":   "alive",
		"summary":  "Heir to the Callis estate.",
		"content":  "Vera holds court in the high district.",
		"references": []map[string]any{
			{"target_slug": "house-callis", "target_type": "faction", "relationship": "heir of"},
		},
	})

	entry, ok := created["entry"].(map[string]any)
	require.True(t, ok, "payload: %v", created)
	assert.Equal(t, "vera-callis", entry["slug"])

	// The reference target does not exist yet: warn, don't reject.
	warnings, ok := created["warnings"].([]any)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	warning := warnings[0].(map[string]any)
	assert.Equal(t, "dangling_reference", warning["code"])

	fetched := call(t, session, "get_entry", map[string]any{"slug": "vera-callis"})
	entry = fetched["entry"].(map[string]any)
	assert.Equal(t, "Vera Callis", entry["name"])

	refs, ok := fetched["references"].([]any)
	require.True(t, ok)
	require.Len(t, refs, 1)
	assert.Equal(t, "house-callis", refs[0].(map[string]any)["target_slug"])
	assert.Empty(t, fetched["referenced_by"])
}

func TestGetEntryNotFound(t *testing.T) {
	session, _ := connectServer(t)

	text := callExpectError(t, session, "get_entry", map[string]any{"slug": "never-written"})
	assert.Contains(t, text, "never-written")
}

func TestCreateEntryInvalidTaxonomy(t *testing.T) {
	session, _ := connectServer(t)

	text := callExpectError(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Broken",
		"category": "settlement",
		"status":   "alive",
		"content":  "Wrong enum.",
	})
	assert.Contains(t, text, "category")
}

func TestUpdateEntry(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Kael Vasuda",
		"category": "criminal",
		"status":   "alive",
		"content":  "A fixer.",
	})

	updated := call(t, session, "update_entry", map[string]any{
		"slug": "kael-vasuda",
		"updates": map[string]any{
			"status": "missing",
		},
	})
	entry := updated["entry"].(map[string]any)
	assert.Equal(t, "missing", entry["status"])
	assert.Equal(t, "criminal", entry["category"], "untouched field must survive")
	assert.Equal(t, "kael-vasuda", entry["slug"], "slug must be immutable")
}

func TestDeleteEntryReportsOrphans(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Drydock Nine",
		"category": "station",
		"status":   "active",
		"content":  "A repair yard.",
	})
	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Rigger Tams",
		"category": "civilian",
		"status":   "alive",
		"content":  "Works the yard.",
		"references": []map[string]any{
			{"target_slug": "drydock-nine", "target_type": "location", "relationship": "works at"},
		},
	})

	deleted := call(t, session, "delete_entry", map[string]any{"slug": "drydock-nine"})
	assert.Equal(t, true, deleted["deleted"])

	orphans, ok := deleted["orphaned_references"].([]any)
	require.True(t, ok)
	require.Len(t, orphans, 1)
	assert.Equal(t, "rigger-tams", orphans[0].(map[string]any)["source_slug"])
}

func TestListAndSearchEntries(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Seicoe Station",
		"category": "station",
		"status":   "active",
		"content":  "Orbital habitat over the belt.",
	})
	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Deckhand Soli",
		"category": "civilian",
		"status":   "alive",
		"content":  "Sweeps the Seicoe docking ring.",
	})

	listed := call(t, session, "list_entries", map[string]any{"type": "location"})
	entries := listed["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "seicoe-station", entries[0].(map[string]any)["slug"])

	found := call(t, session, "search_entries", map[string]any{"query": "seicoe"})
	results := found["results"].([]any)
	require.Len(t, results, 2)
	top := results[0].(map[string]any)["entry"].(map[string]any)
	assert.Equal(t, "seicoe-station", top["slug"], "name match must outrank content match")
}

func TestFindRelatedTool(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Drydock Nine",
		"category": "station",
		"status":   "active",
		"content":  "A repair yard.",
	})
	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Rigger Tams",
		"category": "civilian",
		"status":   "alive",
		"content":  "Works the yard.",
		"references": []map[string]any{
			{"target_slug": "drydock-nine", "target_type": "location", "relationship": "works at"},
		},
	})

	payload := call(t, session, "find_related", map[string]any{"slug": "rigger-tams"})
	related := payload["related"].([]any)
	require.NotEmpty(t, related)

	top := related[0].(map[string]any)
	assert.Equal(t, "drydock-nine", top["entry"].(map[string]any)["slug"])
	assert.InDelta(t, 1.0, top["score"].(float64), 0.001)
	assert.Contains(t, top["reasons"], "direct_reference")
}

func TestValidateReferencesTool(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Sable",
		"category": "criminal",
		"status":   "alive",
		"content":  "A fence.",
		"references": []map[string]any{
			{"target_slug": "never-written", "target_type": "location", "relationship": "hides in"},
		},
	})

	report := call(t, session, "validate_references", map[string]any{})
	broken := report["broken"].([]any)
	require.Len(t, broken, 1)
	assert.Equal(t, "never-written", broken[0].(map[string]any)["target_slug"])

	// Sable has no inbound references and npcs are not root types.
	orphaned := report["orphaned"].([]any)
	require.Len(t, orphaned, 1)
	assert.Equal(t, "sable", orphaned[0].(map[string]any)["slug"])
}

func TestGetSchemaTool(t *testing.T) {
	session, _ := connectServer(t)

	payload := call(t, session, "get_schema", map[string]any{"type": "npc"})
	sc := payload["schema"].(map[string]any)
	assert.Equal(t, "npc", sc["type"])

	categories := sc["categories"].([]any)
	assert.Contains(t, categories, "criminal")

	metadata := sc["metadata"].(map[string]any)
	assert.Equal(t, "string", metadata["location_slug"])
	assert.Equal(t, "list[string]", metadata["secrets"])

	text := callExpectError(t, session, "get_schema", map[string]any{"type": "starship"})
	assert.Contains(t, text, "starship")
}

func TestGetContextPackageTool(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Seicoe Station",
		"category": "station",
		"status":   "active",
		"content":  "Orbital habitat over the belt.",
	})

	payload := call(t, session, "get_context_package", map[string]any{
		"entry_type": "npc",
		"user_input": `Create an npc called "Juno Hale" who runs cargo through Seicoe Station`,
	})

	fields := payload["filled_fields"].(map[string]any)
	assert.Equal(t, "Juno Hale", fields["name"])

	missing := payload["missing_required"].([]any)
	assert.NotContains(t, missing, "name")
	assert.Contains(t, missing, "category")

	related := payload["related_entries"].([]any)
	require.NotEmpty(t, related, "station mention must surface the existing entry")
	assert.Equal(t, "seicoe-station",
		related[0].(map[string]any)["entry"].(map[string]any)["slug"])
}

func TestConversationTools(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Seicoe Station",
		"category": "station",
		"status":   "active",
		"content":  "Orbital habitat over the belt.",
	})

	// A non-lore turn passes through with no context package.
	smallTalk := call(t, session, "handle_turn", map[string]any{
		"conversation_id": "c1",
		"message":         "what's the weather like?",
	})
	assert.Equal(t, "idle", smallTalk["state"])
	assert.Nil(t, smallTalk["context"])

	turn := call(t, session, "handle_turn", map[string]any{
		"conversation_id": "c1",
		"message":         `Create an npc called "Juno Hale" for my lore, a criminal, alive, running cargo through Seicoe Station`,
	})
	assert.Equal(t, "awaiting_composer_output", turn["state"])

	pkg, ok := turn["context"].(map[string]any)
	require.True(t, ok, "payload: %v", turn)
	fields := pkg["filled_fields"].(map[string]any)
	assert.Equal(t, "Juno Hale", fields["name"])

	signaled := call(t, session, "composer_signal", map[string]any{
		"conversation_id":      "c1",
		"presented_for_review": true,
	})
	assert.Equal(t, "awaiting_approval", signaled["state"])

	// Signaling again without an intervening turn is out of order.
	text := callExpectError(t, session, "composer_signal", map[string]any{
		"conversation_id":      "c1",
		"presented_for_review": true,
	})
	assert.Contains(t, text, "state")

	approved := call(t, session, "approve_entry", map[string]any{
		"conversation_id": "c1",
		"references": []map[string]any{
			{"target_slug": "seicoe-station", "target_type": "location", "relationship": "runs cargo through"},
		},
	})
	entry := approved["entry"].(map[string]any)
	assert.Equal(t, "juno-hale", entry["slug"])

	fetched := call(t, session, "get_entry", map[string]any{"slug": "juno-hale"})
	refs := fetched["references"].([]any)
	require.Len(t, refs, 1)
	assert.Equal(t, "seicoe-station", refs[0].(map[string]any)["target_slug"])

	// Replayed approval returns the committed entry without a second write.
	replayed := call(t, session, "approve_entry", map[string]any{"conversation_id": "c1"})
	assert.Equal(t, "juno-hale", replayed["entry"].(map[string]any)["slug"])

	listed := call(t, session, "list_entries", map[string]any{"type": "npc"})
	assert.Len(t, listed["entries"].([]any), 1)

	discarded := call(t, session, "discard_entry", map[string]any{"conversation_id": "c2"})
	assert.Equal(t, "discarded", discarded["state"])
}

func TestExportTools(t *testing.T) {
	session, _ := connectServer(t)

	call(t, session, "create_entry", map[string]any{
		"type":     "location",
		"name":     "Drydock Nine",
		"category": "station",
		"status":   "active",
		"content":  "A repair yard.",
	})
	call(t, session, "create_entry", map[string]any{
		"type":     "npc",
		"name":     "Rigger Tams",
		"category": "civilian",
		"status":   "alive",
		"content":  "Works the yard.",
		"references": []map[string]any{
			{"target_slug": "drydock-nine", "target_type": "location", "relationship": "works at"},
		},
	})

	single := call(t, session, "export_to_foundry", map[string]any{"slug": "rigger-tams"})
	assert.Equal(t, "fvtt-JournalEntry-rigger-tams.json", single["filename"])
	assert.Equal(t, "person", single["foundry_type"])

	related := call(t, session, "export_to_foundry", map[string]any{
		"slug":            "rigger-tams",
		"include_related": true,
	})
	docs := related["entries"].([]any)
	require.Len(t, docs, 2)

	batch := call(t, session, "export_batch_to_foundry", map[string]any{
		"slugs": []string{"rigger-tams", "never-written"},
	})
	docs = batch["entries"].([]any)
	require.Len(t, docs, 1, "missing slug must be skipped")
	manifest := batch["manifest"].(map[string]any)
	idMap := manifest["id_map"].(map[string]any)
	assert.Len(t, idMap, 1)

	schemaInfo := call(t, session, "get_foundry_schema", map[string]any{"entry_type": "npc"})
	assert.Equal(t, "person", schemaInfo["schema"].(map[string]any)["mej_page_type"])
}
