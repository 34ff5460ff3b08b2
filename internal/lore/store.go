// Package lore implements the entry store and reference graph for the lore
// map: validated CRUD over typed worldbuilding entries plus the directed
// edges between them.
//
// All mutating operations run as a single SQLite transaction covering the
// entry row and its outbound edges, so no reader ever observes an entry
// without its declared references. Slug uniqueness is enforced by the
// database at commit time; a concurrent create that loses the race retries
// with the next numeric suffix rather than failing.
package lore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/loremap/internal/schema"
)

// maxSlugAttempts bounds the collision-suffix loop. A hundred entries with
// the same derived slug means something is wrong upstream.
const maxSlugAttempts = 100

// timeLayout is a fixed-width UTC timestamp so ORDER BY on the column is
// chronologically correct.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Indexer receives synchronous notifications after every committed write so
// the search index never lags the store. Implemented by search.Index.
type Indexer interface {
	Upsert(e *Entry)
	Remove(slug string)
}

// Store provides validated CRUD over entries and their references.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     *sql.DB
	index  Indexer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store. index may be nil (writes are then not indexed);
// logger nil falls back to slog.Default().
func New(db *sql.DB, index Indexer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		index:  index,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and persists a new entry together with its references.
// The slug is derived from the name; collisions append -2, -3, … until a
// candidate commits. Returned warnings cover dangling reference targets and
// unknown metadata keys; they never fail the create.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Entry, []Warning, error) {
	if verr := validateTaxonomy(in.Type, in.Category, in.Status); verr != nil {
		return nil, nil, verr
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, nil, &ValidationError{Field: "name", Message: "name is required"}
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, nil, &ValidationError{Field: "content", Message: "content is required"}
	}

	if in.ParentSlug != "" {
		exists, err := s.Exists(ctx, in.ParentSlug)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, &ValidationError{
				Field:   "parent_slug",
				Message: fmt.Sprintf("parent_slug does not exist: %s", in.ParentSlug),
			}
		}
	}

	metadata, err := schema.DefaultMetadata(in.Type)
	if err != nil {
		return nil, nil, &ValidationError{Field: "type", Message: err.Error()}
	}
	var warnings []Warning
	for key, value := range in.Metadata {
		metadata[key] = value
	}
	for _, key := range schema.UnknownKeys(in.Type, in.Metadata) {
		warnings = append(warnings, Warning{
			Code:    WarnUnknownMetadataKey,
			Message: fmt.Sprintf("metadata key %q is not defined for type %q", key, in.Type),
		})
	}

	refs, refWarnings, err := s.prepareReferences(ctx, in.References)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, refWarnings...)

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	base := Slugify(in.Name)
	now := s.now().UTC()

	entry := &Entry{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Name:       in.Name,
		Category:   in.Category,
		Status:     in.Status,
		ParentSlug: in.ParentSlug,
		Summary:    in.Summary,
		Content:    in.Content,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		candidate := suffixedSlug(base, attempt)

		// Cheap existence probe; the UNIQUE index remains the authority
		// when two creates race for the same candidate.
		exists, err := s.Exists(ctx, candidate)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			continue
		}

		entry.Slug = candidate
		err = s.insertEntry(ctx, entry, refs, metadataJSON)
		if isUniqueViolation(err) {
			s.logger.Debug("slug collision, retrying with suffix",
				"slug", candidate, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if s.index != nil {
			s.index.Upsert(entry)
		}
		sortWarnings(warnings)
		s.logger.Debug("created entry", "slug", entry.Slug, "type", entry.Type,
			"references", len(refs), "warnings", len(warnings))
		return entry, warnings, nil
	}

	return nil, nil, fmt.Errorf("could not find a free slug for %q after %d attempts", base, maxSlugAttempts)
}

// insertEntry writes the entry row and its edges in one transaction.
func (s *Store) insertEntry(ctx context.Context, e *Entry, refs []Reference, metadataJSON []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, slug, type, name, category, status, parent_slug, summary, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Slug, e.Type, e.Name, e.Category, e.Status,
		nullable(e.ParentSlug), nullable(e.Summary), e.Content, string(metadataJSON),
		e.CreatedAt.Format(timeLayout), e.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return err
	}

	if err := insertReferences(ctx, tx, e.Slug, refs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// Get returns the entry for the given slug.
func (s *Store) Get(ctx context.Context, slug string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, type, name, category, status, parent_slug, summary, content, metadata, created_at, updated_at
		 FROM entries WHERE slug = ?`, slug)
	return s.scanEntry(row, slug)
}

// Exists reports whether an entry with the given slug exists.
func (s *Store) Exists(ctx context.Context, slug string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE slug = ? LIMIT 1`, slug).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking slug %q: %w", slug, err)
	}
	return true, nil
}

// Update applies a partial update to the entry identified by slug.
// The slug itself is immutable: renaming changes only the display name.
// Taxonomy is re-validated against the merged state, so an update can never
// move an entry outside its type's enums. A non-nil References replaces the
// entire outbound edge set.
func (s *Store) Update(ctx context.Context, slug string, in UpdateInput) (*Entry, []Warning, error) {
	current, err := s.Get(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	next := *current
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, nil, &ValidationError{Field: "name", Message: "name cannot be empty"}
		}
		next.Name = *in.Name
	}
	if in.Category != nil {
		next.Category = *in.Category
	}
	if in.Status != nil {
		next.Status = *in.Status
	}
	if in.Summary != nil {
		next.Summary = *in.Summary
	}
	if in.Content != nil {
		if strings.TrimSpace(*in.Content) == "" {
			return nil, nil, &ValidationError{Field: "content", Message: "content cannot be empty"}
		}
		next.Content = *in.Content
	}
	if in.ParentSlug != nil {
		next.ParentSlug = *in.ParentSlug
	}

	if verr := validateTaxonomy(next.Type, next.Category, next.Status); verr != nil {
		return nil, nil, verr
	}
	if in.ParentSlug != nil && next.ParentSlug != "" {
		exists, err := s.Exists(ctx, next.ParentSlug)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, &ValidationError{
				Field:   "parent_slug",
				Message: fmt.Sprintf("parent_slug does not exist: %s", next.ParentSlug),
			}
		}
	}

	var warnings []Warning
	if in.Metadata != nil {
		next.Metadata = in.Metadata
		for _, key := range schema.UnknownKeys(next.Type, in.Metadata) {
			warnings = append(warnings, Warning{
				Code:    WarnUnknownMetadataKey,
				Message: fmt.Sprintf("metadata key %q is not defined for type %q", key, next.Type),
			})
		}
	}

	var refs []Reference
	replaceRefs := in.References != nil
	if replaceRefs {
		var refWarnings []Warning
		refs, refWarnings, err = s.prepareReferences(ctx, in.References)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, refWarnings...)
	}

	metadataJSON, err := json.Marshal(next.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	next.UpdatedAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	_, err = tx.ExecContext(ctx,
		`UPDATE entries
		 SET name = ?, category = ?, status = ?, parent_slug = ?, summary = ?, content = ?, metadata = ?, updated_at = ?
		 WHERE slug = ?`,
		next.Name, next.Category, next.Status, nullable(next.ParentSlug),
		nullable(next.Summary), next.Content, string(metadataJSON),
		next.UpdatedAt.Format(timeLayout), slug,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("updating entry %q: %w", slug, err)
	}

	if replaceRefs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entry_refs WHERE source_slug = ?`, slug); err != nil {
			return nil, nil, fmt.Errorf("clearing references for %q: %w", slug, err)
		}
		if err := insertReferences(ctx, tx, slug, refs); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing update for %q: %w", slug, err)
	}

	if s.index != nil {
		s.index.Upsert(&next)
	}
	sortWarnings(warnings)
	s.logger.Debug("updated entry", "slug", slug, "warnings", len(warnings))
	return &next, warnings, nil
}

// Delete removes the entry and all edges it is the source of. Edges pointing
// at the deleted entry are reported as orphaned and left in place: the
// referencing entries keep a dangling pointer that Validate will surface.
func (s *Store) Delete(ctx context.Context, slug string) (*DeleteResult, error) {
	inbound, err := s.EdgesTo(ctx, slug)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_refs WHERE source_slug = ?`, slug); err != nil {
		return nil, fmt.Errorf("deleting references for %q: %w", slug, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE slug = ?`, slug)
	if err != nil {
		return nil, fmt.Errorf("deleting entry %q: %w", slug, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading delete result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete for %q: %w", slug, err)
	}

	deleted := affected > 0
	if deleted && s.index != nil {
		s.index.Remove(slug)
	}
	s.logger.Debug("deleted entry", "slug", slug, "deleted", deleted,
		"orphaned_references", len(inbound))

	return &DeleteResult{Deleted: deleted, OrphanedReferences: inbound}, nil
}

// List returns entry summaries, optionally filtered by type and/or parent,
// ordered most recently updated first with name as tie-break.
func (s *Store) List(ctx context.Context, entryType, parentSlug string) ([]EntrySummary, error) {
	var conditions []string
	var args []any
	if entryType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, entryType)
	}
	if parentSlug != "" {
		conditions = append(conditions, "parent_slug = ?")
		args = append(args, parentSlug)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, name, type, category, status, summary, updated_at
		 FROM entries `+where+`
		 ORDER BY updated_at DESC, name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// All streams every entry in the store. Used to rebuild the search index at
// startup.
func (s *Store) All(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, type, name, category, status, parent_slug, summary, content, metadata, created_at, updated_at
		 FROM entries ORDER BY slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("loading all entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := s.scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// prepareReferences normalizes the incoming reference list: entries missing a
// target are dropped with a warning, duplicate (source,target) pairs keep the
// last occurrence, and dangling targets produce warnings without failing.
func (s *Store) prepareReferences(ctx context.Context, refs []Reference) ([]Reference, []Warning, error) {
	var warnings []Warning
	byTarget := make(map[string]int)
	var out []Reference

	for _, ref := range refs {
		target := strings.TrimSpace(ref.TargetSlug)
		targetType := strings.TrimSpace(ref.TargetType)
		if target == "" || targetType == "" {
			warnings = append(warnings, Warning{
				Code:    WarnMissingTargetSlug,
				Message: "reference missing target_slug or target_type",
			})
			continue
		}
		ref.TargetSlug = target
		ref.TargetType = targetType

		if i, seen := byTarget[target]; seen {
			out[i] = ref
			continue
		}
		byTarget[target] = len(out)
		out = append(out, ref)

		exists, err := s.Exists(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			warnings = append(warnings, Warning{
				Code:    WarnDanglingReference,
				Message: fmt.Sprintf("reference target does not exist: %s", target),
			})
		}
	}
	return out, warnings, nil
}

func insertReferences(ctx context.Context, tx *sql.Tx, sourceSlug string, refs []Reference) error {
	for _, ref := range refs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entry_refs (id, source_slug, target_slug, target_type, relationship)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), sourceSlug, ref.TargetSlug, ref.TargetType, nullable(ref.Relationship),
		)
		if err != nil {
			return fmt.Errorf("inserting reference %s -> %s: %w", sourceSlug, ref.TargetSlug, err)
		}
	}
	return nil
}

func validateTaxonomy(entryType, category, status string) *ValidationError {
	errs := schema.ValidateTaxonomy(entryType, category, status)
	if len(errs) == 0 {
		return nil
	}
	field := "category"
	if _, known := schema.Get(entryType); !known {
		field = "type"
	} else if strings.Contains(errs[0], "status") {
		field = "status"
	}
	return &ValidationError{Field: field, Message: strings.Join(errs, "; ")}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntry(row *sql.Row, slug string) (*Entry, error) {
	e, err := scanEntryFrom(row, s.logger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Slug: slug}
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry %q: %w", slug, err)
	}
	return e, nil
}

func (s *Store) scanEntryRow(rows *sql.Rows) (*Entry, error) {
	e, err := scanEntryFrom(rows, s.logger)
	if err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	return e, nil
}

func scanEntryFrom(r rowScanner, logger *slog.Logger) (*Entry, error) {
	var e Entry
	var parent, summary sql.NullString
	var metadataJSON, createdAt, updatedAt string

	err := r.Scan(&e.ID, &e.Slug, &e.Type, &e.Name, &e.Category, &e.Status,
		&parent, &summary, &e.Content, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ParentSlug = parent.String
	e.Summary = summary.String
	if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
		logger.Warn("unparseable metadata, using empty map", "slug", e.Slug, "error", err)
		e.Metadata = map[string]any{}
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanSummaries(rows *sql.Rows) ([]EntrySummary, error) {
	var summaries []EntrySummary
	for rows.Next() {
		var es EntrySummary
		var summary sql.NullString
		var updatedAt string
		if err := rows.Scan(&es.Slug, &es.Name, &es.Type, &es.Category, &es.Status, &summary, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry summary: %w", err)
		}
		es.Summary = summary.String
		es.UpdatedAt = parseTime(updatedAt)
		summaries = append(summaries, es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entry summaries: %w", err)
	}
	return summaries, nil
}

// parseTime reads the store's fixed-width layout, falling back to RFC3339
// and SQLite's datetime('now') format for rows written outside the store.
func parseTime(value string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Debug("transaction rollback", "error", err)
	}
}

// sortWarnings gives deterministic warning order for tests and tool output.
func sortWarnings(warnings []Warning) {
	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Code != warnings[j].Code {
			return warnings[i].Code < warnings[j].Code
		}
		return warnings[i].Message < warnings[j].Message
	})
}
