// Package export turns lore entries into Foundry VTT v12 JournalEntry JSON
// shaped for Monk's Enhanced Journal (MEJ). Documents carry deterministic
// placeholder IDs derived from slugs, so entries exported across separate
// batches can still reference each other; callers that already imported some
// documents pass the real Foundry IDs as overrides.
package export

import (
	"strings"
	"unicode"
)

// Foundry / system version constants stamped into every exported document.
const (
	FoundryVersion     = "12.343"
	LancerSystemID     = "lancer"
	LancerSystemVer    = "2.11.1"
	exportWorldName    = "azimuth-export"
	exportAuthorID     = "azimuth-export-00"
	textContentFormat  = 1 // CONST.JOURNAL_ENTRY_PAGE_FORMATS.HTML
	defaultVideoVolume = 0.5
)

// mejPageTypes maps a lore entry type to the MEJ pagetype flag.
var mejPageTypes = map[string]string{
	"npc":      "person",
	"location": "place",
	"faction":  "organization",
	"event":    "text",
	"culture":  "text",
}

// placetypeMap maps a location category to the MEJ placetype display string.
var placetypeMap = map[string]string{
	"planet":     "Planet",
	"moon":       "Moon",
	"station":    "Orbital Station",
	"settlement": "Settlement",
	"region":     "Region",
}

// mejRelTypeMap maps a lore entry type to the MEJ type used in relationship
// objects. Events and cultures have no native MEJ type and fall back to
// person so the link still renders.
var mejRelTypeMap = map[string]string{
	"npc":      "person",
	"location": "place",
	"faction":  "organization",
	"event":    "person",
	"culture":  "person",
}

// buildRelationship builds a Foundry MEJ relationship object pointing at the
// target entry. The id honors overrides so links resolve against documents
// that already exist in the target world.
func buildRelationship(targetSlug, targetName, targetType, relationship string, overrides map[string]string) map[string]any {
	id := resolveID(targetSlug, overrides)
	relType, ok := mejRelTypeMap[targetType]
	if !ok {
		relType = "person"
	}
	return map[string]any{
		"id":           id,
		"uuid":         "JournalEntry." + id,
		"hidden":       false,
		"name":         targetName,
		"img":          "",
		"type":         relType,
		"relationship": relationship,
	}
}

func makeStats(nowMS int64) map[string]any {
	return map[string]any{
		"coreVersion":    FoundryVersion,
		"systemId":       LancerSystemID,
		"systemVersion":  LancerSystemVer,
		"createdTime":    nowMS,
		"modifiedTime":   nowMS,
		"lastModifiedBy": exportAuthorID,
	}
}

// journalEnvelope builds the outer JournalEntry structure.
func journalEnvelope(name, pageType string, pages []map[string]any, nowMS int64) map[string]any {
	return map[string]any{
		"name": name,
		"flags": map[string]any{
			"monks-enhanced-journal": map[string]any{
				"pagetype": pageType,
				"img":      "",
			},
			"exportSource": map[string]any{
				"world":         exportWorldName,
				"system":        LancerSystemID,
				"coreVersion":   FoundryVersion,
				"systemVersion": LancerSystemVer,
			},
		},
		"pages":  pages,
		"folder": nil,
		"_stats": makeStats(nowMS),
	}
}

// basePage holds the page fields shared by every MEJ page type. The type
// field is always "text": MEJ distinguishes person/place/organization via
// flags, not the Foundry page type.
func basePage(slug, name, htmlContent string, flags map[string]any, nowMS int64) map[string]any {
	return map[string]any{
		"type":   "text",
		"name":   name,
		"flags":  flags,
		"_id":    pageID(slug),
		"system": map[string]any{},
		"title":  map[string]any{"show": true, "level": 1},
		"image":  map[string]any{},
		"text": map[string]any{
			"format":  textContentFormat,
			"content": htmlContent,
		},
		"video":     map[string]any{"controls": true, "volume": defaultVideoVolume},
		"src":       "",
		"sort":      0,
		"ownership": map[string]any{"default": -1},
		"_stats":    makeStats(nowMS),
	}
}

func personPage(slug, name, role, location string, attributes map[string]string, htmlContent string, relationships []map[string]any, nowMS int64) map[string]any {
	flags := map[string]any{
		"monks-enhanced-journal": map[string]any{
			"type":          "person",
			"role":          role,
			"location":      location,
			"attributes":    attributes,
			"relationships": relationships,
		},
	}
	return basePage(slug, name, htmlContent, flags, nowMS)
}

func placePage(slug, name, placetype, location string, attributes map[string]string, htmlContent string, relationships []map[string]any, nowMS int64) map[string]any {
	flags := map[string]any{
		"monks-enhanced-journal": map[string]any{
			"type":          "place",
			"placetype":     placetype,
			"location":      location,
			"attributes":    attributes,
			"relationships": relationships,
		},
	}
	return basePage(slug, name, htmlContent, flags, nowMS)
}

func organizationPage(slug, name string, attributes map[string]string, htmlContent string, relationships []map[string]any, nowMS int64) map[string]any {
	flags := map[string]any{
		"monks-enhanced-journal": map[string]any{
			"type":          "organization",
			"attributes":    attributes,
			"relationships": relationships,
		},
	}
	return basePage(slug, name, htmlContent, flags, nowMS)
}

// textPage builds a generic text page for types without a dedicated MEJ
// page type (events, cultures).
func textPage(slug, name, htmlContent string, nowMS int64) map[string]any {
	return basePage(slug, name, htmlContent, map[string]any{}, nowMS)
}

// titleCase uppercases the first letter of each word and lowercases the
// rest, matching the display convention of the placetype and role strings.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upperNext := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if upperNext {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			upperNext = false
		default:
			b.WriteRune(r)
			upperNext = true
		}
	}
	return b.String()
}
