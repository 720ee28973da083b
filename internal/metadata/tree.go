package metadata

import (
	"context"
	"fmt"
	"slices"

	"github.com/fruitsalade/linkdrop/internal/tree"
)

// FileNode converts a file record to a tree node.
func FileNode(r FileRecord) *tree.FileNode {
	status := tree.ProcessingStatus(r.ProcessingStatus)
	if status == "" {
		status = tree.StatusCompleted
	}
	return &tree.FileNode{
		NodeBase: tree.NodeBase{
			ID:        r.ID,
			Name:      r.Name,
			ParentID:  r.FolderID,
			SortOrder: r.SortOrder,
		},
		MimeType:         r.MimeType,
		FileSize:         r.Size,
		Extension:        r.Extension,
		ProcessingStatus: status,
	}
}

// FolderNode converts a folder record to a tree node. Path and Depth are
// recomputed by the tree store.
func FolderNode(r FolderRecord) *tree.FolderNode {
	return &tree.FolderNode{
		NodeBase: tree.NodeBase{
			ID:        r.ID,
			Name:      r.Name,
			ParentID:  r.ParentFolderID,
			SortOrder: r.SortOrder,
		},
		Path:       r.Path,
		Depth:      r.Depth,
		FileCount:  r.FileCount,
		TotalSize:  r.TotalSize,
		IsArchived: r.IsArchived,
	}
}

// Nodes converts records to nodes ordered so every folder precedes its
// contents, ready for tree.Store.ApplyPatch or sequential Upserts.
func Nodes(folders []FolderRecord, files []FileRecord) []tree.Node {
	sorted := slices.Clone(folders)
	slices.SortStableFunc(sorted, func(a, b FolderRecord) int { return a.Depth - b.Depth })

	out := make([]tree.Node, 0, len(folders)+len(files))
	for _, f := range sorted {
		out = append(out, FolderNode(f))
	}
	for _, f := range files {
		out = append(out, FileNode(f))
	}
	return out
}

// Lister reads the direct children of a folder in one partition.
type Lister interface {
	ListFolders(ctx context.Context, owner Owner, parentID string) ([]FolderRecord, error)
	ListFiles(ctx context.Context, owner Owner, folderID string) ([]FileRecord, error)
}

// LoadTree reads a whole partition breadth-first and builds a tree store in
// one step.
func LoadTree(ctx context.Context, l Lister, owner Owner, opts ...tree.Option) (*tree.Store, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	var folders []FolderRecord
	var files []FileRecord
	queue := []string{""}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		dirs, err := l.ListFolders(ctx, owner, parent)
		if err != nil {
			return nil, fmt.Errorf("list folders of %q: %w", parent, err)
		}
		fl, err := l.ListFiles(ctx, owner, parent)
		if err != nil {
			return nil, fmt.Errorf("list files of %q: %w", parent, err)
		}
		folders = append(folders, dirs...)
		files = append(files, fl...)
		for _, f := range dirs {
			queue = append(queue, f.ID)
		}
	}

	s := tree.NewStore(opts...)
	if err := s.Load(Nodes(folders, files)); err != nil {
		return nil, fmt.Errorf("load %s: %w", owner, err)
	}
	return s, nil
}
