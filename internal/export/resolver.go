package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/loremap/internal/lore"
)

// batchParallelism bounds concurrent entry exports in a batch. Exports are
// read-only, so contention is limited to the SQLite connection pool.
const batchParallelism = 4

// UnsupportedTypeError reports an entry type with no Foundry formatter.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported entry type: %s", e.Type)
}

// Reader is the store surface the resolver needs. *lore.Store satisfies it.
type Reader interface {
	Get(ctx context.Context, slug string) (*lore.Entry, error)
	EdgesFrom(ctx context.Context, slug string) ([]lore.Reference, error)
}

// Document is one exported JournalEntry, ready to be written to disk or
// returned over the wire. JSON holds the indented Foundry document.
type Document struct {
	Slug        string `json:"slug"`
	Filename    string `json:"filename"`
	JSON        string `json:"json"`
	Type        string `json:"type"`
	FoundryType string `json:"foundry_type"`
}

// Manifest accompanies a batch and records which Foundry ID each exported
// slug received, so a later batch can pass them back as overrides.
type Manifest struct {
	ExportedAt     time.Time         `json:"exported_at"`
	FoundryVersion string            `json:"foundry_version"`
	System         string            `json:"system"`
	SystemVersion  string            `json:"system_version"`
	IDMap          map[string]string `json:"id_map"`
}

// BatchResult bundles the exported documents with their manifest.
type BatchResult struct {
	Documents []*Document `json:"entries"`
	Manifest  Manifest    `json:"manifest"`
}

// Resolver reads lore entries and produces Foundry VTT-importable JSON.
type Resolver struct {
	store  Reader
	logger *slog.Logger
	md     goldmark.Markdown
	now    func() time.Time
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Reader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: logger.With("component", "export"),
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:    time.Now,
	}
}

// ExportEntry exports a single entry as a Foundry JournalEntry document.
// overrides maps slugs to real Foundry IDs for entries that already exist in
// the target world; they take precedence over computed placeholder IDs both
// for the entry itself and for every relationship it links.
func (r *Resolver) ExportEntry(ctx context.Context, slug string, overrides map[string]string) (*Document, error) {
	entry, err := r.store.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	foundryType, ok := mejPageTypes[entry.Type]
	if !ok {
		return nil, &UnsupportedTypeError{Type: entry.Type}
	}

	relationships, err := r.buildRelationships(ctx, slug, overrides)
	if err != nil {
		return nil, err
	}

	htmlContent, err := r.markdownToHTML(entry.Content)
	if err != nil {
		return nil, fmt.Errorf("render content for %s: %w", slug, err)
	}

	nowMS := r.now().UTC().UnixMilli()
	var doc map[string]any
	switch entry.Type {
	case "npc":
		doc, err = r.formatNPC(ctx, entry, htmlContent, relationships, nowMS)
	case "location":
		doc, err = r.formatLocation(ctx, entry, htmlContent, relationships, nowMS)
	case "faction":
		doc = r.formatFaction(entry, htmlContent, relationships, nowMS)
	case "event":
		doc, err = r.formatEvent(ctx, entry, htmlContent, nowMS)
	case "culture":
		doc = journalEnvelope(entry.Name, "text", []map[string]any{textPage(slug, entry.Name, htmlContent, nowMS)}, nowMS)
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document for %s: %w", slug, err)
	}

	return &Document{
		Slug:        slug,
		Filename:    fmt.Sprintf("fvtt-JournalEntry-%s.json", slug),
		JSON:        string(raw),
		Type:        entry.Type,
		FoundryType: foundryType,
	}, nil
}

// ExportBatch exports multiple entries with a unified manifest. Slugs with
// no entry or with an unsupported type are skipped rather than failing the
// batch, and the manifest id_map lists only the documents actually produced.
// Entries export in parallel; output order follows the input order.
func (r *Resolver) ExportBatch(ctx context.Context, slugs []string, overrides map[string]string) (*BatchResult, error) {
	slots := make([]*Document, len(slugs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for i, slug := range slugs {
		g.Go(func() error {
			doc, err := r.ExportEntry(gctx, slug, overrides)
			if err != nil {
				if skippable(err) {
					r.logger.Warn("skipping entry in batch export", "slug", slug, "error", err)
					return nil
				}
				return err
			}
			slots[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	documents := make([]*Document, 0, len(slots))
	idMap := make(map[string]string)
	for _, doc := range slots {
		if doc == nil {
			continue
		}
		documents = append(documents, doc)
		idMap[doc.Slug] = resolveID(doc.Slug, overrides)
	}

	return &BatchResult{
		Documents: documents,
		Manifest:  r.buildManifest(idMap),
	}, nil
}

// ExportWithRelated exports an entry plus every entry it references (one
// hop, outbound). The primary entry must exist; dangling or unsupported
// targets are skipped silently.
func (r *Resolver) ExportWithRelated(ctx context.Context, slug string, overrides map[string]string) (*BatchResult, error) {
	primary, err := r.ExportEntry(ctx, slug, overrides)
	if err != nil {
		return nil, err
	}

	refs, err := r.store.EdgesFrom(ctx, slug)
	if err != nil {
		return nil, err
	}

	documents := []*Document{primary}
	idMap := map[string]string{slug: resolveID(slug, overrides)}
	seen := map[string]bool{slug: true}
	for _, ref := range refs {
		if seen[ref.TargetSlug] {
			continue
		}
		seen[ref.TargetSlug] = true

		doc, err := r.ExportEntry(ctx, ref.TargetSlug, overrides)
		if err != nil {
			if skippable(err) {
				continue
			}
			return nil, err
		}
		documents = append(documents, doc)
		idMap[ref.TargetSlug] = resolveID(ref.TargetSlug, overrides)
	}

	return &BatchResult{
		Documents: documents,
		Manifest:  r.buildManifest(idMap),
	}, nil
}

func (r *Resolver) buildManifest(idMap map[string]string) Manifest {
	return Manifest{
		ExportedAt:     r.now().UTC(),
		FoundryVersion: FoundryVersion,
		System:         LancerSystemID,
		SystemVersion:  LancerSystemVer,
		IDMap:          idMap,
	}
}

// skippable reports whether a per-entry export failure should drop the
// document from a batch instead of aborting it.
func skippable(err error) bool {
	var unsupported *UnsupportedTypeError
	return errors.Is(err, lore.ErrNotFound) || errors.As(err, &unsupported)
}

// buildRelationships turns the entry's outbound references into MEJ
// relationship objects. Dangling targets are dropped: a relationship link
// needs a display name, which only an existing entry can provide.
func (r *Resolver) buildRelationships(ctx context.Context, slug string, overrides map[string]string) ([]map[string]any, error) {
	refs, err := r.store.EdgesFrom(ctx, slug)
	if err != nil {
		return nil, err
	}

	relationships := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		target, err := r.store.Get(ctx, ref.TargetSlug)
		if err != nil {
			if errors.Is(err, lore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		relationships = append(relationships,
			buildRelationship(ref.TargetSlug, target.Name, ref.TargetType, ref.Relationship, overrides))
	}
	return relationships, nil
}

func (r *Resolver) markdownToHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// resolveName resolves a slug to its display name, returning the slug
// itself on miss.
func (r *Resolver) resolveName(ctx context.Context, slug string) (string, error) {
	entry, err := r.store.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, lore.ErrNotFound) {
			return slug, nil
		}
		return "", err
	}
	return entry.Name, nil
}

func (r *Resolver) formatNPC(ctx context.Context, entry *lore.Entry, htmlContent string, relationships []map[string]any, nowMS int64) (map[string]any, error) {
	locationName := ""
	if locSlug := metaString(entry.Metadata, "location_slug"); locSlug != "" {
		name, err := r.resolveName(ctx, locSlug)
		if err != nil {
			return nil, err
		}
		locationName = name
	}

	attributes := map[string]string{
		"ancestry": "Human",
		"age":      "",
		"eyes":     "",
		"hair":     "",
		"voice":    "",
		"traits":   metaString(entry.Metadata, "appearance"),
		"ideals":   metaString(entry.Metadata, "disposition"),
		"bonds":    "",
		"flaws":    "",
	}

	role := metaString(entry.Metadata, "role")
	if role == "" {
		role = entry.Category
	}

	page := personPage(entry.Slug, entry.Name, "NPC - "+titleCase(role), locationName,
		attributes, htmlContent, relationships, nowMS)
	return journalEnvelope(entry.Name, "person", []map[string]any{page}, nowMS), nil
}

func (r *Resolver) formatLocation(ctx context.Context, entry *lore.Entry, htmlContent string, relationships []map[string]any, nowMS int64) (map[string]any, error) {
	placetype, ok := placetypeMap[entry.Category]
	if !ok {
		placetype = titleCase(entry.Category)
	}

	government := ""
	if gov := metaString(entry.Metadata, "controlled_by"); gov != "" {
		name, err := r.resolveName(ctx, gov)
		if err != nil {
			return nil, err
		}
		government = name
	}

	attributes := map[string]string{
		"age":         "",
		"size":        titleCase(entry.Category),
		"government":  government,
		"inhabitants": metaString(entry.Metadata, "population"),
	}

	page := placePage(entry.Slug, entry.Name, placetype, metaString(entry.Metadata, "parent_body"),
		attributes, htmlContent, relationships, nowMS)
	return journalEnvelope(entry.Name, "place", []map[string]any{page}, nowMS), nil
}

func (r *Resolver) formatFaction(entry *lore.Entry, htmlContent string, relationships []map[string]any, nowMS int64) map[string]any {
	attributes := map[string]string{
		"type":       titleCase(entry.Category),
		"allegiance": metaString(entry.Metadata, "allegiance"),
		"strength":   metaString(entry.Metadata, "strength"),
	}

	page := organizationPage(entry.Slug, entry.Name, attributes, htmlContent, relationships, nowMS)
	return journalEnvelope(entry.Name, "organization", []map[string]any{page}, nowMS)
}

// formatEvent has no dedicated MEJ page type; the date, location, and key
// actors are rendered as an HTML header above the body instead.
func (r *Resolver) formatEvent(ctx context.Context, entry *lore.Entry, htmlContent string, nowMS int64) (map[string]any, error) {
	var header []string
	if date := metaString(entry.Metadata, "date_in_universe"); date != "" {
		header = append(header, "<p><strong>Date:</strong> "+date+"</p>")
	}
	if locSlug := metaString(entry.Metadata, "location_slug"); locSlug != "" {
		name, err := r.resolveName(ctx, locSlug)
		if err != nil {
			return nil, err
		}
		header = append(header, "<p><strong>Location:</strong> "+name+"</p>")
	}
	if actors := metaStrings(entry.Metadata, "key_actors"); len(actors) > 0 {
		resolved := make([]string, 0, len(actors))
		for _, actor := range actors {
			name, err := r.resolveName(ctx, actor)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, name)
		}
		header = append(header, "<p><strong>Key Actors:</strong> "+strings.Join(resolved, ", ")+"</p>")
	}
	if len(header) > 0 {
		htmlContent = strings.Join(header, "\n") + "\n<hr>\n" + htmlContent
	}

	page := textPage(entry.Slug, entry.Name, htmlContent, nowMS)
	return journalEnvelope(entry.Name, "text", []map[string]any{page}, nowMS), nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	var out []string
	switch v := meta[key].(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
