package orchestrator

import (
	"encoding/json"
	"sync"

	"github.com/koopa0/loremap/internal/lore"
	"github.com/koopa0/loremap/internal/schema"
	"github.com/koopa0/loremap/internal/search"
)

// State is the per-conversation position in the lore-capture flow.
type State int

const (
	// StateIdle means no lore capture is in progress.
	StateIdle State = iota
	// StateClassifying means the latest message is at the cheap classifier.
	StateClassifying
	// StateExtracting means fields are being pulled from the message.
	StateExtracting
	// StateAssembling means the context package is being built.
	StateAssembling
	// StateAwaitingComposer means a context package was handed off and the
	// composer's turn outcome has not been signaled yet.
	StateAwaitingComposer
	// StateAwaitingApproval means the composer presented an entry for review.
	StateAwaitingApproval
	// StateCommitted means the accumulated entry was written to the store.
	StateCommitted
	// StateDiscarded means the user rejected the entry and the accumulator
	// was cleared.
	StateDiscarded
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateClassifying:      "classifying",
	StateExtracting:       "extracting",
	StateAssembling:       "assembling",
	StateAwaitingComposer: "awaiting_composer_output",
	StateAwaitingApproval: "awaiting_approval",
	StateCommitted:        "committed",
	StateDiscarded:        "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON renders the state by name so tool payloads stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Intent is the classifier's verdict on one user message.
type Intent struct {
	IsLore     bool    `json:"is_lore"`
	IntentType string  `json:"intent_type"`
	EntryType  string  `json:"entry_type,omitempty"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// SuggestedReference is a reference candidate offered to the user. None of
// these are written to the store until the user confirms them at approval.
type SuggestedReference struct {
	TargetSlug   string `json:"target_slug"`
	TargetType   string `json:"target_type"`
	Relationship string `json:"relationship"`
	Reason       string `json:"reason"`
}

// ContextPackage is the structured block injected ahead of the composer's
// input. A nil package means the turn passes through unaugmented.
type ContextPackage struct {
	Schema              *schema.Schema        `json:"schema"`
	FilledFields        map[string]any        `json:"filled_fields"`
	MissingRequired     []string              `json:"missing_required"`
	RelatedEntries      []search.RelatedEntry `json:"related_entries"`
	SuggestedReferences []SuggestedReference  `json:"suggested_references"`
	FollowUpQuestions   []string              `json:"follow_up_questions"`
}

// TurnResult is what one processed user message produces.
type TurnResult struct {
	State   State           `json:"state"`
	Intent  Intent          `json:"intent"`
	Context *ContextPackage `json:"context,omitempty"`
}

// ApproveInput carries the user-confirmed state at approval time. Fields, if
// non-nil, replace the accumulator wholesale (the composer shows the final
// field set to the user, so its confirmed copy wins). References holds only
// the suggestions the user explicitly confirmed.
type ApproveInput struct {
	Fields     map[string]any
	References []lore.Reference
}

// turn is one message in the conversation history.
type turn struct {
	Role    string
	Content string
}

// conversation is the per-conversation accumulator. All access goes through
// its mutex; a second message arriving while a turn is in flight queues on
// the lock rather than interleaving.
type conversation struct {
	mu sync.Mutex

	id        string
	state     State
	entryType string
	fields    map[string]any
	history   []turn

	// updateSlug is set when a turn classifies as an amendment of an entry
	// that already exists; approval then routes through the update path.
	updateSlug string

	// committedSlug is set on the first successful approval so replays are
	// no-ops.
	committedSlug string
}

func newConversation(id string) *conversation {
	return &conversation{
		id:     id,
		state:  StateIdle,
		fields: make(map[string]any),
	}
}

// reset clears the accumulator after a discard.
func (c *conversation) reset() {
	c.entryType = ""
	c.fields = make(map[string]any)
	c.updateSlug = ""
	c.committedSlug = ""
}
