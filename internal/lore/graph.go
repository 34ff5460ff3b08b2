package lore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/koopa0/loremap/internal/schema"
)

// EdgesFrom returns the outbound references of an entry, ordered by target
// slug for stable output.
func (s *Store) EdgesFrom(ctx context.Context, slug string) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_slug, target_slug, target_type, COALESCE(relationship, '')
		 FROM entry_refs WHERE source_slug = ?
		 ORDER BY target_slug ASC`, slug)
	if err != nil {
		return nil, fmt.Errorf("loading references from %q: %w", slug, err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// EdgesTo returns the inbound references of an entry, ordered by source slug.
func (s *Store) EdgesTo(ctx context.Context, slug string) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_slug, target_slug, target_type, COALESCE(relationship, '')
		 FROM entry_refs WHERE target_slug = ?
		 ORDER BY source_slug ASC`, slug)
	if err != nil {
		return nil, fmt.Errorf("loading references to %q: %w", slug, err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// Validate checks reference-graph integrity. With a slug it checks every edge
// touching that entry, outbound and inbound alike, and reports whether the
// entry itself is orphaned; with an empty slug it sweeps the whole graph.
// Orphans are entries of non-root types that nothing references. Root types
// (locations) anchor the world and are never orphans.
func (s *Store) Validate(ctx context.Context, slug string) (*ValidationReport, error) {
	report := &ValidationReport{
		Valid:    []Reference{},
		Broken:   []Reference{},
		Orphaned: []EntrySummary{},
	}

	query := `SELECT r.source_slug, r.target_slug, r.target_type, COALESCE(r.relationship, ''),
	                 e.slug IS NOT NULL
	          FROM entry_refs r
	          LEFT JOIN entries e ON e.slug = r.target_slug`
	var args []any
	if slug != "" {
		query += ` WHERE r.source_slug = ? OR r.target_slug = ?`
		args = append(args, slug, slug)
	}
	query += ` ORDER BY r.source_slug ASC, r.target_slug ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("validating references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref Reference
		var targetExists bool
		if err := rows.Scan(&ref.SourceSlug, &ref.TargetSlug, &ref.TargetType, &ref.Relationship, &targetExists); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		if targetExists {
			report.Valid = append(report.Valid, ref)
		} else {
			report.Broken = append(report.Broken, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating references: %w", err)
	}

	orphans, err := s.orphanedEntries(ctx, slug)
	if err != nil {
		return nil, err
	}
	report.Orphaned = orphans
	return report, nil
}

// orphanedEntries finds entries with no inbound edges, optionally narrowed to
// a single slug. Root-type entries are excluded in Go rather than SQL so the
// root set lives in one place, the schema registry.
func (s *Store) orphanedEntries(ctx context.Context, slug string) ([]EntrySummary, error) {
	query := `SELECT e.slug, e.name, e.type, e.category, e.status, e.summary, e.updated_at
	          FROM entries e
	          LEFT JOIN entry_refs r ON r.target_slug = e.slug
	          WHERE r.id IS NULL`
	var args []any
	if slug != "" {
		query += ` AND e.slug = ?`
		args = append(args, slug)
	}
	query += ` ORDER BY e.slug ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding orphaned entries: %w", err)
	}
	defer rows.Close()

	all, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}

	orphans := []EntrySummary{}
	for _, es := range all {
		if schema.IsRoot(es.Type) {
			continue
		}
		orphans = append(orphans, es)
	}
	return orphans, nil
}

func scanReferences(rows *sql.Rows) ([]Reference, error) {
	var refs []Reference
	for rows.Next() {
		var ref Reference
		if err := rows.Scan(&ref.SourceSlug, &ref.TargetSlug, &ref.TargetType, &ref.Relationship); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating references: %w", err)
	}
	return refs, nil
}
