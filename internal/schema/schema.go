// Package schema holds the static entry-type schemas for the lore map.
//
// Every entry type carries its own category and status enums, a metadata key
// template, and the content sections the composer is asked to fill. The
// registry is consulted at validation time (store writes) and at assembly
// time (context packages); it is read-only after init.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entry type identifiers. The set is closed: the store rejects anything else.
const (
	TypeLocation = "location"
	TypeFaction  = "faction"
	TypeNPC      = "npc"
	TypeEvent    = "event"
	TypeCulture  = "culture"
)

// MetadataKind describes the shape of a metadata value.
type MetadataKind int

const (
	// KindString is a plain string value.
	KindString MetadataKind = iota
	// KindStringList is a list of strings.
	KindStringList
)

func (k MetadataKind) String() string {
	if k == KindStringList {
		return "list[string]"
	}
	return "string"
}

// MarshalJSON renders the kind as its template string, so schemas serialize
// the way tool callers expect ("string" / "list[string]").
func (k MetadataKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Schema describes one entry type: its taxonomy enums, metadata template,
// and the fields the orchestrator must collect before an entry can be saved.
type Schema struct {
	Type            string                  `json:"type"`
	Categories      []string                `json:"categories"`
	Statuses        []string                `json:"statuses"`
	Metadata        map[string]MetadataKind `json:"metadata"`
	RequiredFields  []string                `json:"required_fields"`
	OptionalFields  []string                `json:"optional_fields"`
	ContentSections []string                `json:"content_sections"`

	// Root marks types that live at the top of the hierarchy and are
	// therefore exempt from orphan detection (nothing has to reference a
	// top-level location for it to be legitimate).
	Root bool `json:"root,omitempty"`
}

var requiredFields = []string{"type", "name", "category", "status", "content"}
var optionalFields = []string{"parent_slug", "summary", "metadata", "references"}
var contentSections = []string{"Summary", "Details", "Hooks"}

var registry = map[string]*Schema{
	TypeLocation: {
		Type:       TypeLocation,
		Categories: []string{"planet", "moon", "station", "settlement", "region"},
		Statuses:   []string{"active", "abandoned", "contested", "restricted"},
		Metadata: map[string]MetadataKind{
			"parent_body":    KindString,
			"controlled_by":  KindString,
			"orbital_period": KindString,
			"atmosphere":     KindString,
			"population":     KindString,
		},
		RequiredFields:  requiredFields,
		OptionalFields:  optionalFields,
		ContentSections: contentSections,
		Root:            true,
	},
	TypeFaction: {
		Type:       TypeFaction,
		Categories: []string{"corporation", "clan", "government", "insurgency", "religious", "military", "other"},
		Statuses:   []string{"active", "dissolved", "underground", "rising", "declining"},
		Metadata: map[string]MetadataKind{
			"allegiance":              KindString,
			"leader_slug":             KindString,
			"base_of_operations_slug": KindString,
			"strength":                KindString,
			"resources":               KindStringList,
		},
		RequiredFields:  requiredFields,
		OptionalFields:  optionalFields,
		ContentSections: contentSections,
	},
	TypeNPC: {
		Type:       TypeNPC,
		Categories: []string{"leader", "diplomat", "soldier", "civilian", "criminal", "scholar", "other"},
		Statuses:   []string{"alive", "dead", "missing", "unknown"},
		Metadata: map[string]MetadataKind{
			"faction_slug":  KindString,
			"location_slug": KindString,
			"disposition":   KindString,
			"role":          KindString,
			"appearance":    KindString,
			"secrets":       KindStringList,
		},
		RequiredFields:  requiredFields,
		OptionalFields:  optionalFields,
		ContentSections: contentSections,
	},
	TypeEvent: {
		Type:       TypeEvent,
		Categories: []string{"battle", "political", "disaster", "discovery", "cultural", "personal"},
		Statuses:   []string{"historical", "ongoing", "imminent", "secret"},
		Metadata: map[string]MetadataKind{
			"date_in_universe": KindString,
			"location_slug":    KindString,
			"key_actors":       KindStringList,
			"consequences":     KindStringList,
		},
		RequiredFields:  requiredFields,
		OptionalFields:  optionalFields,
		ContentSections: contentSections,
	},
	TypeCulture: {
		Type:       TypeCulture,
		Categories: []string{"ethnic", "regional", "religious", "professional", "other"},
		Statuses:   []string{"active", "declining", "extinct", "evolving"},
		Metadata: map[string]MetadataKind{
			"associated_faction_slug":  KindString,
			"associated_location_slug": KindString,
			"values":                   KindStringList,
			"practices":                KindStringList,
		},
		RequiredFields:  requiredFields,
		OptionalFields:  optionalFields,
		ContentSections: contentSections,
	},
}

// Get returns the schema for the given entry type.
// The second return value reports whether the type is known.
func Get(entryType string) (*Schema, bool) {
	s, ok := registry[entryType]
	return s, ok
}

// Types returns all known entry types in sorted order.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsRoot reports whether the given entry type is a root-level type.
// Unknown types are not root.
func IsRoot(entryType string) bool {
	s, ok := registry[entryType]
	return ok && s.Root
}

// ValidateTaxonomy checks that category and status are members of the type's
// enums. It returns one message per violation; an unknown type short-circuits.
func ValidateTaxonomy(entryType, category, status string) []string {
	s, ok := registry[entryType]
	if !ok {
		return []string{fmt.Sprintf("unsupported entry type: %s", entryType)}
	}

	var errs []string
	if !contains(s.Categories, category) {
		errs = append(errs, fmt.Sprintf("invalid category %q for type %q", category, entryType))
	}
	if !contains(s.Statuses, status) {
		errs = append(errs, fmt.Sprintf("invalid status %q for type %q", status, entryType))
	}
	return errs
}

// DefaultMetadata returns a fresh metadata map with every known key set to
// its zero value ("" or an empty list). Callers may mutate the result.
func DefaultMetadata(entryType string) (map[string]any, error) {
	s, ok := registry[entryType]
	if !ok {
		return nil, fmt.Errorf("unsupported entry type: %s", entryType)
	}

	metadata := make(map[string]any, len(s.Metadata))
	for key, kind := range s.Metadata {
		switch kind {
		case KindStringList:
			metadata[key] = []any{}
		default:
			metadata[key] = ""
		}
	}
	return metadata, nil
}

// UnknownKeys returns the metadata keys not present in the type's template.
// Unknown keys are preserved by the store but reported as warnings.
func UnknownKeys(entryType string, metadata map[string]any) []string {
	s, ok := registry[entryType]
	if !ok || len(metadata) == 0 {
		return nil
	}

	var unknown []string
	for key := range metadata {
		if _, known := s.Metadata[key]; !known {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// SortedMetadataKeys returns the template keys for a type in sorted order.
// Used to build deterministic follow-up questions.
func SortedMetadataKeys(entryType string) []string {
	s, ok := registry[entryType]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(s.Metadata))
	for key := range s.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
