// Package orchestrator coordinates the lore-capture flow across conversation
// turns: a cheap classifier decides whether a message is lore at all, a cheap
// extractor maps it onto the active schema, and the assembler packages
// everything the composer needs. The expensive composer itself lives outside
// this package; the orchestrator only supplies its context block and reacts
// to its outcome signals.
//
// Classifier and extractor failures never surface to the caller: the turn
// degrades to ordinary chat (nil context package). Store writes happen in
// exactly one place, the approval transition, and replaying an approval is a
// no-op.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/schema"
)

// historyWindow is how many recent turns feed the classifier's summary.
const historyWindow = 8

// ErrConversationState reports an outcome signal that does not fit the
// conversation's current state.
var ErrConversationState = errors.New("unexpected conversation state")

// Classifier is the cheap-model contract the orchestrator consumes.
// Implemented by Producer.
type Classifier interface {
	ClassifyIntent(ctx context.Context, message, historySummary string) (Intent, error)
	ExtractFields(ctx context.Context, message string, sc *schema.Schema) (map[string]any, error)
}

// EntryWriter is the slice of the entry store the orchestrator commits
// through.
type EntryWriter interface {
	Create(ctx context.Context, in lore.CreateInput) (*lore.Entry, []lore.Warning, error)
	Update(ctx context.Context, slug string, in lore.UpdateInput) (*lore.Entry, []lore.Warning, error)
	Get(ctx context.Context, slug string) (*lore.Entry, error)
	Exists(ctx context.Context, slug string) (bool, error)
}

// Orchestrator runs the per-conversation lore-capture state machine.
//
// Orchestrator is safe for concurrent use; turns within one conversation are
// serialized, turns across conversations proceed independently.
type Orchestrator struct {
	classifier Classifier
	assembler  *Assembler
	store      EntryWriter
	logger     *slog.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// New creates an Orchestrator. logger nil falls back to slog.Default().
func New(classifier Classifier, assembler *Assembler, store EntryWriter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier:    classifier,
		assembler:     assembler,
		store:         store,
		logger:        logger,
		conversations: make(map[string]*conversation),
	}
}

// HandleTurn processes one user message. A nil Context in the result means
// the turn is not lore-related and passes through to normal chat unchanged.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID, message string) (*TurnResult, error) {
	conv := o.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	// A finished capture leaves a stale accumulator behind; the next turn
	// starts a fresh one.
	if conv.state == StateCommitted || conv.state == StateDiscarded {
		conv.reset()
		conv.state = StateIdle
	}

	conv.history = append(conv.history, turn{Role: "user", Content: message})

	conv.state = StateClassifying
	intent, err := o.classifier.ClassifyIntent(ctx, message, summarizeHistory(conv.history, historyWindow))
	if err != nil {
		// Fail open: a dead classifier must never block chat.
		o.logger.Warn("classifier unavailable, falling back to heuristics",
			"conversation", conversationID, "error", err)
		intent = heuristicIntent(message)
	}

	if !intent.IsLore {
		conv.state = StateIdle
		return &TurnResult{State: conv.state, Intent: intent}, nil
	}

	entryType := o.resolveEntryType(intent, message, conv)
	if entryType == "" {
		o.logger.Debug("lore intent without entry type, passing through",
			"conversation", conversationID)
		conv.state = StateIdle
		return &TurnResult{State: conv.state, Intent: intent}, nil
	}
	conv.entryType = entryType

	sc, ok := schema.Get(entryType)
	if !ok {
		conv.state = StateIdle
		return &TurnResult{State: conv.state, Intent: intent}, nil
	}

	conv.state = StateExtracting
	o.extractInto(ctx, conv, message, sc)

	conv.state = StateAssembling
	existingSlug := o.existingSlugForUpdate(ctx, intent, conv)
	if existingSlug != "" {
		conv.updateSlug = existingSlug
	}
	pkg, err := o.assembler.Assemble(ctx, entryType, message, snapshotFields(conv.fields), existingSlug)
	if err != nil {
		return nil, err
	}

	conv.state = StateAwaitingComposer
	return &TurnResult{State: conv.state, Intent: intent, Context: pkg}, nil
}

// ComposerSignal records how the composer's turn ended: an entry presented
// for the user's review, or continued questioning. Returns the new state.
func (o *Orchestrator) ComposerSignal(conversationID string, presentedForReview bool) (State, error) {
	conv := o.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.state != StateAwaitingComposer {
		return conv.state, ErrConversationState
	}
	if presentedForReview {
		conv.state = StateAwaitingApproval
	} else {
		conv.state = StateExtracting
	}
	return conv.state, nil
}

// Approve commits the accumulated entry. A capture that classified as an
// update of an existing entry writes the accumulated fields through the
// store's update path. For a create, the write is idempotent: if an entry
// with the derived slug already exists, the approval is treated as a replay
// and the existing entry is returned without writing anything. Only the
// references the user confirmed are persisted.
func (o *Orchestrator) Approve(ctx context.Context, conversationID string, in ApproveInput) (*lore.Entry, []lore.Warning, error) {
	conv := o.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.state == StateCommitted && conv.committedSlug != "" {
		entry, err := o.store.Get(ctx, conv.committedSlug)
		return entry, nil, err
	}

	fields := conv.fields
	if in.Fields != nil {
		fields = in.Fields
		conv.fields = in.Fields
	}

	name, _ := fields["name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, nil, &lore.ValidationError{Field: "name", Message: "cannot approve an entry without a name"}
	}

	slug := lore.Slugify(name)
	if conv.updateSlug == slug {
		entry, warnings, err := o.store.Update(ctx, slug, updateFromFields(fields, in.References))
		if err != nil {
			return nil, nil, err
		}
		conv.state = StateCommitted
		conv.committedSlug = slug
		o.logger.Info("committed approved amendment",
			"conversation", conversationID, "slug", slug, "type", entry.Type)
		return entry, warnings, nil
	}

	exists, err := o.store.Exists(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		entry, err := o.store.Get(ctx, slug)
		if err != nil {
			return nil, nil, err
		}
		conv.state = StateCommitted
		conv.committedSlug = slug
		o.logger.Debug("approval replay detected, no write",
			"conversation", conversationID, "slug", slug)
		return entry, nil, nil
	}

	entryType := conv.entryType
	if t, ok := fields["type"].(string); ok && t != "" {
		entryType = t
	}

	input := lore.CreateInput{
		Type:       entryType,
		Name:       name,
		References: in.References,
	}
	input.Category, _ = fields["category"].(string)
	input.Status, _ = fields["status"].(string)
	input.Summary, _ = fields["summary"].(string)
	input.Content, _ = fields["content"].(string)
	input.ParentSlug, _ = fields["parent_slug"].(string)
	if metadata, ok := fields["metadata"].(map[string]any); ok {
		input.Metadata = metadata
	}

	entry, warnings, err := o.store.Create(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	conv.state = StateCommitted
	conv.committedSlug = entry.Slug
	o.logger.Info("committed approved entry",
		"conversation", conversationID, "slug", entry.Slug, "type", entry.Type)
	return entry, warnings, nil
}

// Discard rejects the pending entry, clears the accumulator, and parks the
// conversation until the next turn.
func (o *Orchestrator) Discard(conversationID string) State {
	conv := o.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.reset()
	conv.state = StateDiscarded
	o.logger.Debug("discarded pending entry", "conversation", conversationID)
	return conv.state
}

// StateOf reports a conversation's current state. Unknown conversations are
// idle.
func (o *Orchestrator) StateOf(conversationID string) State {
	o.mu.Lock()
	conv, ok := o.conversations[conversationID]
	o.mu.Unlock()
	if !ok {
		return StateIdle
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.state
}

func (o *Orchestrator) conversation(id string) *conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	conv, ok := o.conversations[id]
	if !ok {
		conv = newConversation(id)
		o.conversations[id] = conv
	}
	return conv
}

// resolveEntryType prefers the classifier's verdict, then a keyword scan of
// the message, then whatever type the conversation was already capturing.
func (o *Orchestrator) resolveEntryType(intent Intent, message string, conv *conversation) string {
	if intent.EntryType != "" {
		return intent.EntryType
	}
	if inferred := heuristicIntent(message).EntryType; inferred != "" {
		return inferred
	}
	return conv.entryType
}

// extractInto merges this turn's extracted fields into the accumulator.
// Heuristic extraction runs first as a floor; model extraction overrides it.
// Against the accumulator, newest non-empty values win and nothing already
// captured is dropped.
func (o *Orchestrator) extractInto(ctx context.Context, conv *conversation, message string, sc *schema.Schema) {
	extracted := heuristicFields(message, sc)

	modelFields, err := o.classifier.ExtractFields(ctx, message, sc)
	if err != nil {
		// Fail open, same as classification.
		o.logger.Warn("field extraction unavailable, using heuristics only",
			"conversation", conv.id, "error", err)
	}
	for key, value := range modelFields {
		extracted[key] = value
	}

	for key, value := range extracted {
		if key == "metadata" {
			mergeMetadata(conv.fields, value)
			continue
		}
		if isEmptyValue(value) {
			continue
		}
		conv.fields[key] = value
	}
}

// existingSlugForUpdate detects the update flow: the user is amending an
// entry that already exists under the accumulated name.
func (o *Orchestrator) existingSlugForUpdate(ctx context.Context, intent Intent, conv *conversation) string {
	if intent.IntentType != "update" {
		return ""
	}
	name, _ := conv.fields["name"].(string)
	if name == "" {
		return ""
	}
	slug := lore.Slugify(name)
	exists, err := o.store.Exists(ctx, slug)
	if err != nil || !exists {
		return ""
	}
	return slug
}

func mergeMetadata(fields map[string]any, value any) {
	incoming, ok := value.(map[string]any)
	if !ok || len(incoming) == 0 {
		return
	}
	current, ok := fields["metadata"].(map[string]any)
	if !ok {
		current = make(map[string]any, len(incoming))
	}
	for key, v := range incoming {
		if isEmptyValue(v) {
			continue
		}
		current[key] = v
	}
	fields["metadata"] = current
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// updateFromFields maps the accumulator onto a partial update: only fields
// the capture actually filled are touched, and references are replaced only
// when the user confirmed a set.
func updateFromFields(fields map[string]any, refs []lore.Reference) lore.UpdateInput {
	in := lore.UpdateInput{References: refs}
	assign := func(key string, dst **string) {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			*dst = &v
		}
	}
	assign("name", &in.Name)
	assign("category", &in.Category)
	assign("status", &in.Status)
	assign("parent_slug", &in.ParentSlug)
	assign("summary", &in.Summary)
	assign("content", &in.Content)
	if metadata, ok := fields["metadata"].(map[string]any); ok && len(metadata) > 0 {
		in.Metadata = metadata
	}
	return in
}

func snapshotFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}
