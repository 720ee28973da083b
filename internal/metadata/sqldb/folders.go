package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
)

const folderColumns = `id, name, workspace_id, link_id, parent_folder_id, path, depth,
	sort_order, file_count, total_size, is_archived`

func scanFolder(sc scanner) (*metadata.FolderRecord, error) {
	var r metadata.FolderRecord
	var workspaceID, linkID, parentID sql.NullString
	if err := sc.Scan(&r.ID, &r.Name, &workspaceID, &linkID, &parentID, &r.Path, &r.Depth,
		&r.SortOrder, &r.FileCount, &r.TotalSize, &r.IsArchived); err != nil {
		return nil, err
	}
	r.WorkspaceID = workspaceID.String
	r.LinkID = linkID.String
	r.ParentFolderID = parentID.String
	return &r, nil
}

// GetFolder returns a folder record by id.
func (s *Store) GetFolder(ctx context.Context, id string) (*metadata.FolderRecord, error) {
	defer observe("get_folder")()

	r, err := scanFolder(s.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("folder", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query folder: %w", err)
	}
	return r, nil
}

// ListFolders returns the folders directly inside parentID ("" for the root
// level) of one partition, in sibling order.
func (s *Store) ListFolders(ctx context.Context, owner metadata.Owner, parentID string) ([]metadata.FolderRecord, error) {
	defer observe("list_folders")()

	col, val, err := ownerColumn(owner)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders
		 WHERE `+col+` = $1 AND COALESCE(parent_folder_id, '') = $2
		 ORDER BY sort_order, name, id`, val, parentID)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var out []metadata.FolderRecord
	for rows.Next() {
		r, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// InsertFolder inserts a new folder record.
func (s *Store) InsertFolder(ctx context.Context, r *metadata.FolderRecord) error {
	defer observe("insert_folder")()

	if err := r.Owner().Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (`+folderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Name, nullable(r.WorkspaceID), nullable(r.LinkID), nullable(r.ParentFolderID), r.Path, r.Depth,
		r.SortOrder, r.FileCount, r.TotalSize, r.IsArchived)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}

	logging.Debug("inserted folder",
		zap.String("id", r.ID),
		zap.String("path", r.Path),
		zap.String("owner", r.Owner().String()))
	return nil
}

// DeleteFolder removes a folder record. Contents are not touched.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	defer observe("delete_folder")()

	res, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("folder", id)
	}
	return nil
}

// UpdateFolderStats sets a folder's direct file count and total size.
func (s *Store) UpdateFolderStats(ctx context.Context, id string, fileCount int, totalSize int64) error {
	defer observe("update_folder_stats")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET file_count = $1, total_size = $2 WHERE id = $3`,
		fileCount, totalSize, id)
	if err != nil {
		return fmt.Errorf("update folder stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("folder", id)
	}
	return nil
}

// AddFolderStats adds to a folder's file count and total size in place, so
// concurrent uploads into the same folder all count.
func (s *Store) AddFolderStats(ctx context.Context, id string, files int, size int64) error {
	defer observe("add_folder_stats")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET file_count = file_count + $1, total_size = total_size + $2 WHERE id = $3`,
		files, size, id)
	if err != nil {
		return fmt.Errorf("add folder stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("folder", id)
	}
	return nil
}
