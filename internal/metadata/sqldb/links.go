package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fruitsalade/linkdrop/internal/metadata"
)

const linkColumns = `id, owner_id, name, password_hash, expires_at, max_uploads, upload_count, is_active`

func scanLink(sc scanner) (*metadata.Link, error) {
	var l metadata.Link
	var expires sql.NullInt64
	if err := sc.Scan(&l.ID, &l.OwnerID, &l.Name, &l.PasswordHash, &expires,
		&l.MaxUploads, &l.UploadCount, &l.IsActive); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0).UTC()
		l.ExpiresAt = &t
	}
	return &l, nil
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// GetLink returns an upload link by id.
func (s *Store) GetLink(ctx context.Context, id string) (*metadata.Link, error) {
	defer observe("get_link")()

	l, err := scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM upload_links WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("link", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query link: %w", err)
	}
	return l, nil
}

// InsertLink creates an upload link.
func (s *Store) InsertLink(ctx context.Context, l *metadata.Link) error {
	defer observe("insert_link")()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_links (`+linkColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.OwnerID, l.Name, l.PasswordHash, unixOrNull(l.ExpiresAt),
		l.MaxUploads, l.UploadCount, l.IsActive)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// DeactivateLink marks a link inactive. It reports ErrNotFound unless the
// link exists and belongs to ownerID.
func (s *Store) DeactivateLink(ctx context.Context, id, ownerID string) error {
	defer observe("deactivate_link")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_links SET is_active = FALSE WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deactivate link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("link", id)
	}
	return nil
}

// IncrementLinkUploads bumps the upload counter if the link is still under
// its limit. It reports false when the limit was already reached.
func (s *Store) IncrementLinkUploads(ctx context.Context, id string) (bool, error) {
	defer observe("increment_link_uploads")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_links SET upload_count = upload_count + 1
		 WHERE id = $1 AND (max_uploads = 0 OR upload_count < max_uploads)`, id)
	if err != nil {
		return false, fmt.Errorf("increment uploads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListLinksByOwner returns the links created by ownerID.
func (s *Store) ListLinksByOwner(ctx context.Context, ownerID string) ([]metadata.Link, error) {
	defer observe("list_links")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM upload_links WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []metadata.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CountActiveLinks returns the number of active links.
func (s *Store) CountActiveLinks(ctx context.Context) (int64, error) {
	defer observe("count_active_links")()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_links WHERE is_active = TRUE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}

// GetWorkspace returns a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*metadata.Workspace, error) {
	defer observe("get_workspace")()

	var w metadata.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.OwnerID, &w.Name)
	if isNoRows(err) {
		return nil, notFound("workspace", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query workspace: %w", err)
	}
	return &w, nil
}

// InsertWorkspace creates a workspace.
func (s *Store) InsertWorkspace(ctx context.Context, w *metadata.Workspace) error {
	defer observe("insert_workspace")()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		w.ID, w.OwnerID, w.Name)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// ListWorkspacesByOwner returns the workspaces of ownerID.
func (s *Store) ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]metadata.Workspace, error) {
	defer observe("list_workspaces")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name FROM workspaces WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	var out []metadata.Workspace
	for rows.Next() {
		var w metadata.Workspace
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Name); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
