package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/koopa0/loremap/internal/lore"
)

// Relatedness tier weights. An entry matching several tiers sums them, so a
// neighbor that is both referenced and co-located outranks one that is merely
// referenced.
const (
	weightDirectReference = 1.0
	weightReferencedBy    = 0.95
	weightSharedParent    = 0.72
	weightSharedReference = 0.63
)

// Relatedness reason labels, reported so callers can explain a ranking.
const (
	ReasonDirectReference   = "direct_reference"
	ReasonReferencedBy      = "referenced_by"
	ReasonSharedParent      = "shared_parent"
	ReasonSharedReference   = "shared_reference"
	ReasonContentSimilarity = "content_similarity"
)

const (
	maxRelatedLimit = 25
	// tierCandidateCap bounds how many siblings / co-referencers one tier
	// may contribute, so one crowded parent cannot drown the ranking.
	tierCandidateCap = 30
	// similarityQueryTerms caps how much of the source entry's own text is
	// turned into a similarity query.
	similarityQueryTerms = 8
	similaritySearchSize = 20
)

// GraphReader is the slice of the entry store the ranker needs.
type GraphReader interface {
	Get(ctx context.Context, slug string) (*lore.Entry, error)
	EdgesFrom(ctx context.Context, slug string) ([]lore.Reference, error)
	EdgesTo(ctx context.Context, slug string) ([]lore.Reference, error)
	List(ctx context.Context, entryType, parentSlug string) ([]lore.EntrySummary, error)
}

// RelatedEntry is one ranked neighbor with the reasons it qualified.
type RelatedEntry struct {
	Entry   lore.EntrySummary `json:"entry"`
	Score   float64           `json:"score"`
	Reasons []string          `json:"reasons"`
}

// Ranker composes graph proximity and text similarity into a single related-
// entries ranking.
type Ranker struct {
	store  GraphReader
	index  *Index
	logger *slog.Logger
}

// NewRanker creates a Ranker over the given store and index. logger nil falls
// back to slog.Default().
func NewRanker(store GraphReader, index *Index, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{store: store, index: index, logger: logger}
}

type candidate struct {
	entry   lore.EntrySummary
	score   float64
	reasons []string
}

func (c *candidate) add(weight float64, reason string) {
	c.score += weight
	for _, r := range c.reasons {
		if r == reason {
			return
		}
	}
	c.reasons = append(c.reasons, reason)
}

// FindRelated ranks the entries most related to slug. Four tiers contribute
// additively: outbound references, inbound references, shared parent, and
// shared outbound targets; text similarity against the entry's own name and
// summary fills in when the graph is silent. The ranking is deterministic:
// descending summed score, then name (case-insensitive), then slug.
func (r *Ranker) FindRelated(ctx context.Context, slug string, limit int) ([]RelatedEntry, error) {
	base, err := r.store.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxRelatedLimit {
		limit = maxRelatedLimit
	}

	candidates := make(map[string]*candidate)
	merge := func(entry lore.EntrySummary, weight float64, reason string) {
		if entry.Slug == slug {
			return
		}
		c, ok := candidates[entry.Slug]
		if !ok {
			c = &candidate{entry: entry}
			candidates[entry.Slug] = c
		}
		c.add(weight, reason)
	}

	// Tier 1: direct references, both directions. Dangling targets have no
	// entry to rank and are skipped.
	outbound, err := r.store.EdgesFrom(ctx, slug)
	if err != nil {
		return nil, err
	}
	for _, ref := range outbound {
		if entry, ok := r.index.Summary(ref.TargetSlug); ok {
			merge(entry, weightDirectReference, ReasonDirectReference)
		}
	}

	inbound, err := r.store.EdgesTo(ctx, slug)
	if err != nil {
		return nil, err
	}
	for _, ref := range inbound {
		if entry, ok := r.index.Summary(ref.SourceSlug); ok {
			merge(entry, weightReferencedBy, ReasonReferencedBy)
		}
	}

	// Tier 2: siblings under the same parent.
	if base.ParentSlug != "" {
		siblings, err := r.store.List(ctx, "", base.ParentSlug)
		if err != nil {
			return nil, err
		}
		if len(siblings) > tierCandidateCap {
			siblings = siblings[:tierCandidateCap]
		}
		for _, sibling := range siblings {
			merge(sibling, weightSharedParent, ReasonSharedParent)
		}
	}

	// Tier 3: entries that reference any of the same targets.
	if err := r.mergeSharedReferences(ctx, slug, outbound, merge); err != nil {
		return nil, err
	}

	// Tier 4: text similarity against the entry's own name and summary.
	r.mergeContentSimilarity(base, merge)

	ranked := make([]RelatedEntry, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, RelatedEntry{Entry: c.entry, Score: c.score, Reasons: c.reasons})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		ni, nj := strings.ToLower(ranked[i].Entry.Name), strings.ToLower(ranked[j].Entry.Name)
		if ni != nj {
			return ni < nj
		}
		return ranked[i].Entry.Slug < ranked[j].Entry.Slug
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	r.logger.Debug("ranked related entries", "slug", slug,
		"candidates", len(candidates), "returned", len(ranked))
	return ranked, nil
}

// mergeSharedReferences adds entries that point at any of the source's own
// targets. Each co-referencing entry counts the tier once no matter how many
// targets it shares.
func (r *Ranker) mergeSharedReferences(ctx context.Context, slug string, outbound []lore.Reference, merge func(lore.EntrySummary, float64, string)) error {
	seen := make(map[string]bool)
	for _, ref := range outbound {
		coRefs, err := r.store.EdgesTo(ctx, ref.TargetSlug)
		if err != nil {
			return fmt.Errorf("loading co-references via %q: %w", ref.TargetSlug, err)
		}
		for _, co := range coRefs {
			if co.SourceSlug == slug || seen[co.SourceSlug] {
				continue
			}
			seen[co.SourceSlug] = true
			if len(seen) > tierCandidateCap {
				return nil
			}
			if entry, ok := r.index.Summary(co.SourceSlug); ok {
				merge(entry, weightSharedReference, ReasonSharedReference)
			}
		}
	}
	return nil
}

// mergeContentSimilarity runs the source entry's own name and summary through
// the search index. The weight is bounded to [0.35, 0.55], keeping any
// pure-text match below the weakest graph tier.
func (r *Ranker) mergeContentSimilarity(base *lore.Entry, merge func(lore.EntrySummary, float64, string)) {
	terms := Tokenize(base.Name + " " + base.Summary)
	if len(terms) == 0 {
		return
	}
	seen := make(map[string]bool)
	query := make([]string, 0, similarityQueryTerms)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		query = append(query, term)
		if len(query) == similarityQueryTerms {
			break
		}
	}

	for _, hit := range r.index.Search(strings.Join(query, " "), "", similaritySearchSize) {
		weight := hit.Relevance * 0.55
		if weight < 0.35 {
			weight = 0.35
		}
		merge(hit.Entry, weight, ReasonContentSimilarity)
	}
}
