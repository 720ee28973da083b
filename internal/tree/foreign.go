package tree

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path"
	"strings"
)

// DroppedFile is a file handed over by a foreign drop. RelativePath is
// relative to the drop target, e.g. "Photos/sub/y.jpg".
type DroppedFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType,omitempty"`
	RelativePath string `json:"relativePath"`

	Open func() (io.ReadCloser, error) `json:"-"`
}

// DropEntry is one top-level item of a foreign drop, or one entry returned by
// a DirectoryReader. Exactly one of File and Dir is set.
type DropEntry struct {
	Name string
	File *DroppedFile
	Dir  DirectoryReader
}

// IsDir reports whether the entry is a directory.
func (e DropEntry) IsDir() bool {
	return e.Dir != nil
}

// DirectoryReader returns the entries of one directory in batches of
// unspecified size. An empty batch ends the sequence.
type DirectoryReader interface {
	ReadEntries(ctx context.Context) ([]DropEntry, error)
}

// ForeignDropResult describes what a foreign drop produced.
type ForeignDropResult struct {
	// Inserted holds the ids of the FileNodes inserted for top-level files.
	Inserted []string `json:"inserted"`
	// Files lists every dropped file, top-level and nested, in read order.
	Files []DroppedFile `json:"files"`
	// FolderStructure groups the files of dropped directories by relative
	// folder path. Empty directories are present with no files.
	FolderStructure map[string][]DroppedFile `json:"folderStructure"`
}

// ForeignDrop handles a drop whose items come from outside the tree, such as
// an OS file drag. Every directory is drained completely before anything is
// inserted; a read error aborts the whole drop and leaves the tree unchanged.
func (h *Handlers) ForeignDrop(ctx context.Context, targetFolderID string, entries []DropEntry) (*ForeignDropResult, error) {
	if _, err := h.store.Children(targetFolderID); err != nil {
		return nil, err
	}

	x := newExpander()
	var top []DroppedFile
	for _, e := range entries {
		switch {
		case e.Dir != nil:
			if !validName(e.Name) {
				return nil, fmt.Errorf("%w: directory name %q", ErrInvalidDrop, e.Name)
			}
			if err := x.expand(ctx, e, e.Name); err != nil {
				return nil, err
			}
		case e.File != nil:
			f, err := droppedFile(e, "")
			if err != nil {
				return nil, err
			}
			top = append(top, f)
		default:
			return nil, fmt.Errorf("%w: entry %q is neither file nor directory", ErrInvalidDrop, e.Name)
		}
	}

	res := &ForeignDropResult{
		Files:           append(top, x.files...),
		FolderStructure: x.folders,
	}
	for _, f := range top {
		id, err := h.Insert(targetFolderID, &FileNode{
			NodeBase:         NodeBase{Name: f.Name},
			MimeType:         f.MimeType,
			FileSize:         f.Size,
			Extension:        Extension(f.Name),
			ProcessingStatus: StatusPending,
		})
		if err != nil {
			return res, fmt.Errorf("insert %q: %w", f.Name, err)
		}
		res.Inserted = append(res.Inserted, id)
	}
	return res, nil
}

// Expand drains a directory entry and groups its files by relative folder
// path, starting with the entry's own name.
func Expand(ctx context.Context, entry DropEntry) (map[string][]DroppedFile, error) {
	if entry.Dir == nil {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrInvalidDrop, entry.Name)
	}
	x := newExpander()
	if err := x.expand(ctx, entry, entry.Name); err != nil {
		return nil, err
	}
	return x.folders, nil
}

type expander struct {
	folders map[string][]DroppedFile
	files   []DroppedFile
}

func newExpander() *expander {
	return &expander{folders: make(map[string][]DroppedFile)}
}

// expand drains dir sequentially, then descends into its subdirectories.
func (x *expander) expand(ctx context.Context, dir DropEntry, rel string) error {
	if _, ok := x.folders[rel]; !ok {
		x.folders[rel] = []DroppedFile{}
	}
	var subdirs []DropEntry
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := dir.Dir.ReadEntries(ctx)
		if err != nil {
			return fmt.Errorf("read directory %q: %w", rel, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			switch {
			case e.Dir != nil:
				if !validName(e.Name) {
					return fmt.Errorf("%w: directory name %q in %q", ErrInvalidDrop, e.Name, rel)
				}
				subdirs = append(subdirs, e)
			case e.File != nil:
				f, err := droppedFile(e, rel)
				if err != nil {
					return err
				}
				x.folders[rel] = append(x.folders[rel], f)
				x.files = append(x.files, f)
			default:
				return fmt.Errorf("%w: entry %q in %q is neither file nor directory", ErrInvalidDrop, e.Name, rel)
			}
		}
	}
	for _, d := range subdirs {
		if err := x.expand(ctx, d, rel+"/"+d.Name); err != nil {
			return err
		}
	}
	return nil
}

func droppedFile(e DropEntry, dir string) (DroppedFile, error) {
	f := *e.File
	if f.Name == "" {
		f.Name = e.Name
	}
	if !validName(f.Name) {
		return DroppedFile{}, fmt.Errorf("%w: file name %q", ErrInvalidDrop, f.Name)
	}
	f.RelativePath = f.Name
	if dir != "" {
		f.RelativePath = dir + "/" + f.Name
	}
	if f.MimeType == "" {
		f.MimeType = MimeType(f.Name)
	}
	return f, nil
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// MimeType guesses a content type from the file name.
func MimeType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// SliceReader serves fixed batches, then an empty one.
type SliceReader struct {
	Batches [][]DropEntry
	next    int
}

func (r *SliceReader) ReadEntries(ctx context.Context) ([]DropEntry, error) {
	if r.next >= len(r.Batches) {
		return nil, nil
	}
	b := r.Batches[r.next]
	r.next++
	return b, nil
}

// DefaultBatchSize is the number of entries an FSReader returns per call.
const DefaultBatchSize = 100

// FSReader reads a directory of an fs.FS in batches.
type FSReader struct {
	fsys      fs.FS
	dir       string
	batchSize int

	entries []fs.DirEntry
	loaded  bool
	off     int
}

// NewFSReader returns a reader over dir in fsys.
func NewFSReader(fsys fs.FS, dir string, batchSize int) *FSReader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &FSReader{fsys: fsys, dir: dir, batchSize: batchSize}
}

func (r *FSReader) ReadEntries(ctx context.Context) ([]DropEntry, error) {
	if !r.loaded {
		entries, err := fs.ReadDir(r.fsys, r.dir)
		if err != nil {
			return nil, err
		}
		r.entries, r.loaded = entries, true
	}
	end := min(r.off+r.batchSize, len(r.entries))
	out := make([]DropEntry, 0, end-r.off)
	for _, de := range r.entries[r.off:end] {
		e, err := fsEntry(r.fsys, path.Join(r.dir, de.Name()), de, r.batchSize)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	r.off = end
	return out, nil
}

// NewFSEntry turns a file or directory of fsys into a top-level drop entry.
func NewFSEntry(fsys fs.FS, name string) (DropEntry, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return DropEntry{}, err
	}
	return fsEntry(fsys, name, fs.FileInfoToDirEntry(info), DefaultBatchSize)
}

func fsEntry(fsys fs.FS, name string, de fs.DirEntry, batchSize int) (DropEntry, error) {
	base := path.Base(name)
	if de.IsDir() {
		return DropEntry{Name: base, Dir: NewFSReader(fsys, name, batchSize)}, nil
	}
	info, err := de.Info()
	if err != nil {
		return DropEntry{}, err
	}
	return DropEntry{
		Name: base,
		File: &DroppedFile{
			Name: base,
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return fsys.Open(name) },
		},
	}, nil
}
