package lore

import "time"

// Entry is the canonical knowledge unit: one NPC, location, faction, event,
// or culture. Slug is unique across all types and never changes after
// creation (renames keep the slug stable so references survive).
type Entry struct {
	ID         string         `json:"id"`
	Slug       string         `json:"slug"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Status     string         `json:"status"`
	ParentSlug string         `json:"parent_slug,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Reference is a directed edge from one entry to another. The target may not
// exist yet: lore often references entries that will be written later, so
// dangling targets are reported as warnings rather than rejected.
type Reference struct {
	SourceSlug   string `json:"source_slug"`
	TargetSlug   string `json:"target_slug"`
	TargetType   string `json:"target_type"`
	Relationship string `json:"relationship,omitempty"`
}

// EntrySummary is the listing/search projection of an entry.
type EntrySummary struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Warning codes reported alongside successful writes.
const (
	WarnDanglingReference  = "dangling_reference"
	WarnMissingTargetSlug  = "missing_target_slug"
	WarnUnknownMetadataKey = "unknown_metadata_key"
)

// Warning is additive integrity information attached to a successful
// operation. It never blocks the operation that produced it.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateInput holds the fields for a new entry.
type CreateInput struct {
	Type       string
	Name       string
	Category   string
	Status     string
	Summary    string
	Content    string
	Metadata   map[string]any
	References []Reference
	ParentSlug string
}

// UpdateInput holds a partial update. Nil pointers leave the current value
// untouched; References replaces the full outbound edge set when non-nil.
type UpdateInput struct {
	Name       *string
	Category   *string
	Status     *string
	ParentSlug *string
	Summary    *string
	Content    *string
	Metadata   map[string]any
	References []Reference
}

// DeleteResult reports the outcome of a delete: whether a row was removed
// and which inbound edges now dangle (their source entries are left intact).
type DeleteResult struct {
	Deleted            bool        `json:"deleted"`
	OrphanedReferences []Reference `json:"orphaned_references"`
}

// ValidationReport is the result of a reference-graph integrity check.
type ValidationReport struct {
	Valid    []Reference    `json:"valid"`
	Broken   []Reference    `json:"broken"`
	Orphaned []EntrySummary `json:"orphaned"`
}
