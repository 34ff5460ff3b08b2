package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/koopa0/loremap/internal/schema"
	"github.com/koopa0/loremap/internal/search"
)

const (
	relatedEntriesCap      = 10
	suggestedReferencesCap = 5
	probeResultsPerTerm    = 5
	existingRelatedLimit   = 8
)

// Searcher is the slice of the search index the assembler needs.
type Searcher interface {
	Search(query, entryType string, limit int) []search.Result
}

// RelatedFinder ranks neighbors of an existing entry.
type RelatedFinder interface {
	FindRelated(ctx context.Context, slug string, limit int) ([]search.RelatedEntry, error)
}

// Assembler builds context packages: the schema, what is already known, what
// is still missing, and which existing entries the new lore appears to touch.
type Assembler struct {
	searcher Searcher
	related  RelatedFinder
	logger   *slog.Logger
}

// NewAssembler creates an Assembler. logger nil falls back to slog.Default().
func NewAssembler(searcher Searcher, related RelatedFinder, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{searcher: searcher, related: related, logger: logger}
}

// Assemble produces the context package for one entry-in-progress.
// existingSlug, when set, marks an update flow and pulls in that entry's own
// graph neighborhood.
func (a *Assembler) Assemble(ctx context.Context, entryType, message string, fields map[string]any, existingSlug string) (*ContextPackage, error) {
	sc, ok := schema.Get(entryType)
	if !ok {
		return nil, fmt.Errorf("unsupported entry type: %s", entryType)
	}

	missing := missingRequired(sc, fields)
	related := a.collectRelated(ctx, message, existingSlug)

	suggested := make([]SuggestedReference, 0, suggestedReferencesCap)
	for _, candidate := range related {
		if len(suggested) == suggestedReferencesCap {
			break
		}
		reason := strings.Join(candidate.Reasons, ", ")
		if reason == "" {
			reason = "context_match"
		}
		suggested = append(suggested, SuggestedReference{
			TargetSlug:   candidate.Entry.Slug,
			TargetType:   candidate.Entry.Type,
			Relationship: "related_to",
			Reason:       reason,
		})
	}

	pkg := &ContextPackage{
		Schema:              sc,
		FilledFields:        fields,
		MissingRequired:     missing,
		RelatedEntries:      related,
		SuggestedReferences: suggested,
		FollowUpQuestions:   buildFollowUpQuestions(sc, missing, fields),
	}
	a.logger.Debug("assembled context package", "entry_type", entryType,
		"missing_required", len(missing), "related", len(related))
	return pkg, nil
}

// AssembleFromInput builds a context package straight from raw user input,
// filling fields heuristically. This serves one-shot tool calls that bypass
// the conversational flow.
func (a *Assembler) AssembleFromInput(ctx context.Context, entryType, userInput, existingSlug string) (*ContextPackage, error) {
	sc, ok := schema.Get(entryType)
	if !ok {
		return nil, fmt.Errorf("unsupported entry type: %s", entryType)
	}
	return a.Assemble(ctx, entryType, userInput, heuristicFields(userInput, sc), existingSlug)
}

// collectRelated probes the index with terms pulled from the message and, on
// update flows, folds in the existing entry's ranked neighbors. When the same
// entry surfaces through several probes the strongest score wins and the
// reasons accumulate.
func (a *Assembler) collectRelated(ctx context.Context, message, existingSlug string) []search.RelatedEntry {
	bySlug := make(map[string]*search.RelatedEntry)

	merge := func(candidate search.RelatedEntry) {
		if candidate.Entry.Slug == existingSlug && existingSlug != "" {
			return
		}
		current, ok := bySlug[candidate.Entry.Slug]
		if !ok {
			copied := candidate
			bySlug[candidate.Entry.Slug] = &copied
			return
		}
		if candidate.Score > current.Score {
			current.Score = candidate.Score
		}
		for _, reason := range candidate.Reasons {
			if !slices.Contains(current.Reasons, reason) {
				current.Reasons = append(current.Reasons, reason)
			}
		}
	}

	for _, term := range extractSearchTerms(message) {
		for _, hit := range a.searcher.Search(term, "", probeResultsPerTerm) {
			score := hit.Relevance
			if score < 0.2 {
				score = 0.2
			}
			merge(search.RelatedEntry{
				Entry:   hit.Entry,
				Score:   score,
				Reasons: []string{"search_match:" + term},
			})
		}
	}

	if existingSlug != "" {
		neighbors, err := a.related.FindRelated(ctx, existingSlug, existingRelatedLimit)
		if err != nil {
			// The package is still useful without the neighborhood.
			a.logger.Warn("related lookup failed during assembly",
				"slug", existingSlug, "error", err)
		}
		for _, neighbor := range neighbors {
			score := neighbor.Score
			if score < 0.4 {
				score = 0.4
			}
			merge(search.RelatedEntry{
				Entry:   neighbor.Entry,
				Score:   score,
				Reasons: []string{"related_to_existing_entry"},
			})
		}
	}

	related := make([]search.RelatedEntry, 0, len(bySlug))
	for _, candidate := range bySlug {
		related = append(related, *candidate)
	}
	sort.Slice(related, func(i, j int) bool {
		if related[i].Score != related[j].Score {
			return related[i].Score > related[j].Score
		}
		return strings.ToLower(related[i].Entry.Name) < strings.ToLower(related[j].Entry.Name)
	})
	if len(related) > relatedEntriesCap {
		related = related[:relatedEntriesCap]
	}
	return related
}

// missingRequired lists the schema-required fields the accumulator has not
// filled yet.
func missingRequired(sc *schema.Schema, fields map[string]any) []string {
	var missing []string
	for _, field := range sc.RequiredFields {
		value, ok := fields[field]
		if !ok || value == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
