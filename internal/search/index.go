// Package search provides the in-memory full-text index and the relatedness
// ranker built on top of it.
//
// The index is an inverted term map rebuilt from the store at startup and
// kept current by synchronous notifications on every write. Scoring is
// term-frequency times inverse document frequency with per-field weights, so
// a hit in an entry's name outranks the same hit buried in its content.
package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/koopa0/loremap/internal/lore"
)

// Field weights applied to term frequencies at indexing time.
const (
	nameWeight    = 3.0
	summaryWeight = 2.0
	contentWeight = 1.0
)

// maxSearchLimit caps the result window regardless of what the caller asks
// for.
const maxSearchLimit = 50

var termRe = regexp.MustCompile(`[a-z0-9]{3,}`)

// stopwords are high-frequency function words that carry no lore signal.
var stopwords = map[string]bool{
	"with": true, "from": true, "that": true, "this": true,
	"have": true, "will": true, "into": true,
}

// Tokenize lowercases text and returns its searchable terms: alphanumeric
// runs of three or more characters, stopwords removed.
func Tokenize(text string) []string {
	var terms []string
	for _, term := range termRe.FindAllString(strings.ToLower(text), -1) {
		if stopwords[term] {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// Result is one search hit.
type Result struct {
	Entry lore.EntrySummary `json:"entry"`
	// Score is the raw tf-idf score; comparable only within one query.
	Score float64 `json:"score"`
	// Relevance is Score normalized to (0, 1) for cross-query use.
	Relevance float64 `json:"relevance"`
}

type document struct {
	summary lore.EntrySummary
	// terms maps each term to its field-weighted frequency.
	terms map[string]float64
}

// Index is an inverted full-text index over entry name, summary, and content.
//
// Index is safe for concurrent use by multiple goroutines.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*document
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{docs: make(map[string]*document)}
}

// Upsert adds or replaces the document for an entry. Implements lore.Indexer.
func (ix *Index) Upsert(e *lore.Entry) {
	doc := buildDocument(e)

	ix.mu.Lock()
	ix.docs[e.Slug] = doc
	ix.mu.Unlock()
}

// Remove drops the document for a slug. Implements lore.Indexer.
func (ix *Index) Remove(slug string) {
	ix.mu.Lock()
	delete(ix.docs, slug)
	ix.mu.Unlock()
}

// Rebuild replaces the whole index with the given entries. Used at startup to
// hydrate from the store.
func (ix *Index) Rebuild(entries []*lore.Entry) {
	fresh := make(map[string]*document, len(entries))
	for _, e := range entries {
		fresh[e.Slug] = buildDocument(e)
	}

	ix.mu.Lock()
	ix.docs = fresh
	ix.mu.Unlock()
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Summary returns the indexed summary for a slug, if present.
func (ix *Index) Summary(slug string) (lore.EntrySummary, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.docs[slug]
	if !ok {
		return lore.EntrySummary{}, false
	}
	return doc.summary, true
}

// Search scores every indexed document against the query and returns the top
// hits, optionally restricted to one entry type. Ties are broken by most
// recent update, then slug, so repeated calls on the same index agree.
func (ix *Index) Search(query, entryType string, limit int) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	totalDocs := len(ix.docs)
	if totalDocs == 0 {
		return nil
	}

	// Document frequency per query term, for idf.
	docFreq := make(map[string]int, len(terms))
	for _, doc := range ix.docs {
		for _, term := range terms {
			if doc.terms[term] > 0 {
				docFreq[term]++
			}
		}
	}

	var results []Result
	for _, doc := range ix.docs {
		if entryType != "" && doc.summary.Type != entryType {
			continue
		}
		var score float64
		for _, term := range terms {
			tf := doc.terms[term]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + float64(totalDocs)/float64(docFreq[term]))
			score += tf * idf
		}
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Entry:     doc.summary,
			Score:     score,
			Relevance: score / (1 + score),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Entry.UpdatedAt.Equal(results[j].Entry.UpdatedAt) {
			return results[i].Entry.UpdatedAt.After(results[j].Entry.UpdatedAt)
		}
		return results[i].Entry.Slug < results[j].Entry.Slug
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func buildDocument(e *lore.Entry) *document {
	doc := &document{
		summary: lore.EntrySummary{
			Slug:      e.Slug,
			Name:      e.Name,
			Type:      e.Type,
			Category:  e.Category,
			Status:    e.Status,
			Summary:   e.Summary,
			UpdatedAt: e.UpdatedAt,
		},
		terms: make(map[string]float64),
	}
	addTerms(doc.terms, e.Name, nameWeight)
	addTerms(doc.terms, e.Summary, summaryWeight)
	addTerms(doc.terms, e.Content, contentWeight)
	return doc
}

func addTerms(terms map[string]float64, text string, weight float64) {
	for _, term := range Tokenize(text) {
		terms[term] += weight
	}
}
