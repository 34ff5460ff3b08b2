package export

// SchemaInfo documents how a lore entry type maps onto its Foundry output,
// for callers deciding which metadata fields are worth filling before an
// export.
type SchemaInfo struct {
	Schema       SchemaDetails     `json:"schema"`
	FieldMapping map[string]string `json:"field_mapping"`
	Notes        string            `json:"notes"`
}

// SchemaDetails describes the target document shape for one entry type.
type SchemaDetails struct {
	FoundryVersion string   `json:"foundry_version"`
	System         string   `json:"system"`
	SystemVersion  string   `json:"system_version"`
	MEJPageType    string   `json:"mej_page_type"`
	EnvelopeKeys   []string `json:"envelope_keys"`
	PageKeys       []string `json:"page_keys"`
}

type fieldMapping struct {
	loreFields map[string]string
	notes      string
}

var fieldMappings = map[string]fieldMapping{
	"npc": {
		loreFields: map[string]string{
			"name":                   "name + pages[0].name",
			"slug":                   "filename: fvtt-JournalEntry-{slug}.json",
			"category":               "pages[0].flags.monks-enhanced-journal.role (prefixed NPC - )",
			"metadata.location_slug": "pages[0].flags.monks-enhanced-journal.location (resolved to name)",
			"metadata.appearance":    "pages[0].flags.monks-enhanced-journal.attributes.traits",
			"metadata.disposition":   "pages[0].flags.monks-enhanced-journal.attributes.ideals",
			"metadata.secrets":       "Included in text.content body under secrets header",
			"metadata.role":          "Combined with category into role string",
			"content":                "pages[0].text.content (markdown → HTML)",
			"references":             "pages[0].flags.monks-enhanced-journal.relationships[]",
		},
		notes: "MEJ person attributes (ancestry, age, eyes, hair, voice, traits, " +
			"ideals, bonds, flaws) are populated from metadata and content.",
	},
	"location": {
		loreFields: map[string]string{
			"name":                   "name + pages[0].name",
			"slug":                   "filename: fvtt-JournalEntry-{slug}.json",
			"category":               "pages[0].flags.monks-enhanced-journal.placetype",
			"metadata.parent_body":   "pages[0].flags.monks-enhanced-journal.location",
			"metadata.controlled_by": "pages[0].flags.monks-enhanced-journal.attributes.government (resolved to name)",
			"metadata.population":    "pages[0].flags.monks-enhanced-journal.attributes.inhabitants",
			"content":                "pages[0].text.content (markdown → HTML)",
			"references":             "pages[0].flags.monks-enhanced-journal.relationships[]",
		},
		notes: "Placetype maps from the bare category to a display string " +
			"(e.g. station → Orbital Station). The location field holds the parent context string.",
	},
	"faction": {
		loreFields: map[string]string{
			"name":                             "name + pages[0].name",
			"category":                         "attributes.type",
			"metadata.allegiance":              "attributes.allegiance",
			"metadata.leader_slug":             "relationships[] (resolved to person)",
			"metadata.base_of_operations_slug": "relationships[] (resolved to place)",
			"metadata.strength":                "attributes.strength",
			"content":                          "pages[0].text.content (markdown → HTML)",
		},
		notes: "MEJ organization page type. Leader and base are rendered as relationship links.",
	},
	"event": {
		loreFields: map[string]string{
			"name":                      "name",
			"metadata.date_in_universe": "Body header",
			"metadata.location_slug":    "Body reference (resolved to name)",
			"metadata.key_actors":       "Body list (resolved to names)",
			"content":                   "pages[0].text.content (markdown → HTML)",
		},
		notes: "No dedicated MEJ page type. Exported as standard text journal with structured HTML body.",
	},
	"culture": {
		loreFields: map[string]string{
			"name":    "name",
			"content": "pages[0].text.content (markdown → HTML)",
		},
		notes: "No dedicated MEJ page type. Exported as standard text journal.",
	},
}

// GetSchemaInfo returns the annotated field mapping for an entry type.
func GetSchemaInfo(entryType string) (*SchemaInfo, error) {
	mapping, ok := fieldMappings[entryType]
	if !ok {
		return nil, &UnsupportedTypeError{Type: entryType}
	}

	pageType, ok := mejPageTypes[entryType]
	if !ok {
		pageType = "text"
	}

	return &SchemaInfo{
		Schema: SchemaDetails{
			FoundryVersion: FoundryVersion,
			System:         LancerSystemID,
			SystemVersion:  LancerSystemVer,
			MEJPageType:    pageType,
			EnvelopeKeys:   []string{"name", "flags", "pages", "folder", "_stats"},
			PageKeys: []string{
				"type", "name", "flags", "_id", "system", "title",
				"image", "text", "video", "src", "sort", "ownership", "_stats",
			},
		},
		FieldMapping: mapping.loreFields,
		Notes:        mapping.notes,
	}, nil
}
