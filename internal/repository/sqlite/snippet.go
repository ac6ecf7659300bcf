package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/model"
	"github.com/sakif/pattern-playground/internal/repository"
)

// Compile-time check: a missing method fails the build here, not at the
// first call site that needs a SnippetRepository.
var _ repository.SnippetRepository = (*DB)(nil)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// snippetColumns is shared by every SELECT so scanSnippet stays in step.
const snippetColumns = `id, user_id, name, description, pattern_id, code_a, code_b, fingerprint, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row rowScanner, s *model.Snippet) error {
	return row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Description, &s.PatternID,
		&s.CodeA, &s.CodeB, &s.Fingerprint,
		&s.CreatedAt, &s.UpdatedAt,
	)
}

// Create assigns the ID and timestamps on the caller's struct, then inserts.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()

	now := time.Now().UTC()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.UserID,
		snippet.Name,
		snippet.Description,
		snippet.PatternID,
		snippet.CodeA,
		snippet.CodeB,
		snippet.Fingerprint,
		snippet.CreatedAt,
		snippet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}
	return nil
}

// GetByID translates sql.ErrNoRows into apperror.NotFound so the handler
// can answer 404 without knowing about database/sql.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	var snippet model.Snippet

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id)
	if err := scanSnippet(row, &snippet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}

	return &snippet, nil
}

// List returns newest first. Filters are ANDed; empty filters are ignored.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := max(opts.Offset, 0)

	// Only fixed column names go into the SQL text; values stay in args.
	var (
		where []string
		args  []any
	)
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.PatternID != "" {
		where = append(where, "pattern_id = ?")
		args = append(args, opts.PatternID)
	}

	query := `SELECT ` + snippetColumns + ` FROM snippets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets: %w", err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0, limit)
	for rows.Next() {
		var s model.Snippet
		if err := scanSnippet(rows, &s); err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}

	return snippets, nil
}

// Update rewrites the mutable fields. id, user_id and created_at never
// change. A zero RowsAffected means the id did not match.
func (db *DB) Update(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets
		 SET name = ?, description = ?, pattern_id = ?, code_a = ?, code_b = ?,
		     fingerprint = ?, updated_at = ?
		 WHERE id = ?`,
		snippet.Name,
		snippet.Description,
		snippet.PatternID,
		snippet.CodeA,
		snippet.CodeB,
		snippet.Fingerprint,
		snippet.UpdatedAt,
		snippet.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("snippet", snippet.ID)
	}
	return nil
}

func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting snippet %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("snippet", id)
	}
	return nil
}

// FindByFingerprint returns the owner's snippet with identical code, if any.
// It reports (nil, nil) when there is none.
func (db *DB) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*model.Snippet, error) {
	var snippet model.Snippet

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets
		 WHERE user_id = ? AND fingerprint = ?
		 ORDER BY created_at ASC LIMIT 1`,
		userID, fingerprint)
	if err := scanSnippet(row, &snippet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding snippet by fingerprint: %w", err)
	}
	return &snippet, nil
}
