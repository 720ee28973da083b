package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
)

const fileColumns = `id, name, workspace_id, link_id, folder_id, storage_key, mime_type,
	extension, size, sort_order, download_count, processing_status`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(sc scanner) (*metadata.FileRecord, error) {
	var r metadata.FileRecord
	var workspaceID, linkID, folderID sql.NullString
	if err := sc.Scan(&r.ID, &r.Name, &workspaceID, &linkID, &folderID, &r.StorageKey,
		&r.MimeType, &r.Extension, &r.Size, &r.SortOrder, &r.DownloadCount, &r.ProcessingStatus); err != nil {
		return nil, err
	}
	r.WorkspaceID = workspaceID.String
	r.LinkID = linkID.String
	r.FolderID = folderID.String
	return &r, nil
}

// GetFile returns a file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*metadata.FileRecord, error) {
	defer observe("get_file")()

	r, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, notFound("file", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	return r, nil
}

// ListFiles returns the files directly inside folderID ("" for the root
// level) of one partition, in sibling order.
func (s *Store) ListFiles(ctx context.Context, owner metadata.Owner, folderID string) ([]metadata.FileRecord, error) {
	defer observe("list_files")()

	col, val, err := ownerColumn(owner)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE `+col+` = $1 AND COALESCE(folder_id, '') = $2
		 ORDER BY sort_order, name, id`, val, folderID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []metadata.FileRecord
	for rows.Next() {
		r, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// InsertFile inserts a new file record.
func (s *Store) InsertFile(ctx context.Context, r *metadata.FileRecord) error {
	defer observe("insert_file")()

	if err := r.Owner().Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Name, nullable(r.WorkspaceID), nullable(r.LinkID), nullable(r.FolderID), r.StorageKey,
		r.MimeType, r.Extension, r.Size, r.SortOrder, r.DownloadCount, r.ProcessingStatus)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	logging.Debug("inserted file",
		zap.String("id", r.ID),
		zap.String("owner", r.Owner().String()),
		zap.Int64("size", r.Size))
	return nil
}

// DeleteFile removes a file record.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	defer observe("delete_file")()

	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("file", id)
	}
	return nil
}
