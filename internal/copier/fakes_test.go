package copier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/storage"
)

// memDB is an in-memory Database.
type memDB struct {
	mu         sync.Mutex
	files      map[string]metadata.FileRecord
	folders    map[string]metadata.FolderRecord
	links      map[string]metadata.Link
	workspaces map[string]metadata.Workspace

	failInsertFile map[string]bool // by file name
	failList       map[string]bool // by parent folder id
}

func newMemDB() *memDB {
	return &memDB{
		files:          make(map[string]metadata.FileRecord),
		folders:        make(map[string]metadata.FolderRecord),
		links:          make(map[string]metadata.Link),
		workspaces:     make(map[string]metadata.Workspace),
		failInsertFile: make(map[string]bool),
		failList:       make(map[string]bool),
	}
}

func (d *memDB) GetFile(_ context.Context, id string) (*metadata.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.files[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &r, nil
}

func (d *memDB) GetFolder(_ context.Context, id string) (*metadata.FolderRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.folders[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &r, nil
}

func (d *memDB) ListFiles(_ context.Context, owner metadata.Owner, folderID string) ([]metadata.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failList[folderID] {
		return nil, errors.New("list timed out")
	}
	var out []metadata.FileRecord
	for _, r := range d.files {
		if r.Owner() == owner && r.FolderID == folderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memDB) ListFolders(_ context.Context, owner metadata.Owner, parentID string) ([]metadata.FolderRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failList[parentID] {
		return nil, errors.New("list timed out")
	}
	var out []metadata.FolderRecord
	for _, r := range d.folders {
		if r.Owner() == owner && r.ParentFolderID == parentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memDB) InsertFile(_ context.Context, r *metadata.FileRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failInsertFile[r.Name] {
		return errors.New("constraint violation")
	}
	if _, ok := d.files[r.ID]; ok {
		return fmt.Errorf("duplicate file id %s", r.ID)
	}
	d.files[r.ID] = *r
	return nil
}

func (d *memDB) InsertFolder(_ context.Context, r *metadata.FolderRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.folders[r.ID]; ok {
		return fmt.Errorf("duplicate folder id %s", r.ID)
	}
	d.folders[r.ID] = *r
	return nil
}

func (d *memDB) DeleteFile(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, id)
	return nil
}

func (d *memDB) DeleteFolder(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.folders, id)
	return nil
}

func (d *memDB) UpdateFolderStats(_ context.Context, id string, fileCount int, totalSize int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.folders[id]
	if !ok {
		return metadata.ErrNotFound
	}
	r.FileCount, r.TotalSize = fileCount, totalSize
	d.folders[id] = r
	return nil
}

func (d *memDB) GetLink(_ context.Context, id string) (*metadata.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.links[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &l, nil
}

func (d *memDB) GetWorkspace(_ context.Context, id string) (*metadata.Workspace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workspaces[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &w, nil
}

func (d *memDB) addFolder(r metadata.FolderRecord) { d.folders[r.ID] = r }

func (d *memDB) addFile(r metadata.FileRecord) { d.files[r.ID] = r }

func (d *memDB) workspaceFiles(ws string) []metadata.FileRecord {
	out, _ := d.ListAllFiles(metadata.WorkspaceOwner(ws))
	return out
}

// ListAllFiles returns every file of owner regardless of folder.
func (d *memDB) ListAllFiles(owner metadata.Owner) ([]metadata.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []metadata.FileRecord
	for _, r := range d.files {
		if r.Owner() == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memDB) workspaceFolders(ws string) []metadata.FolderRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []metadata.FolderRecord
	for _, r := range d.folders {
		if r.WorkspaceID == ws {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// memBlobs is an in-memory BlobStore with one map per bucket context.
type memBlobs struct {
	mu       sync.Mutex
	objects  map[storage.BucketContext]map[string][]byte
	failCopy map[string]bool // by source key
	delay    time.Duration

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: map[storage.BucketContext]map[string][]byte{
			storage.Shared:    {},
			storage.Workspace: {},
		},
		failCopy: make(map[string]bool),
	}
}

func (b *memBlobs) enter() func() {
	n := b.inFlight.Add(1)
	for {
		m := b.maxInFlight.Load()
		if n <= m || b.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { b.inFlight.Add(-1) }
}

func (b *memBlobs) CopyBlob(_ context.Context, srcKey, dstKey string, srcCtx, dstCtx storage.BucketContext) (string, error) {
	defer b.enter()()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCopy[srcKey] {
		return "", errors.New("backend unavailable")
	}
	data, ok := b.objects[srcCtx][srcKey]
	if !ok {
		return "", storage.ErrObjectNotFound
	}
	b.objects[dstCtx][dstKey] = append([]byte(nil), data...)
	return dstKey, nil
}

func (b *memBlobs) DeleteBlob(_ context.Context, key string, bc storage.BucketContext) error {
	defer b.enter()()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects[bc], key)
	return nil
}

func (b *memBlobs) keys(bc storage.BucketContext) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.objects[bc] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fixture seeds a link owned by "u1" and a workspace "w1".
type fixture struct {
	db    *memDB
	blobs *memBlobs
	seq   atomic.Int64
}

func newFixture() *fixture {
	fx := &fixture{db: newMemDB(), blobs: newMemBlobs()}
	fx.db.links["L"] = metadata.Link{ID: "L", OwnerID: "u1", Name: "client uploads", IsActive: true}
	fx.db.links["other"] = metadata.Link{ID: "other", OwnerID: "u2", IsActive: true}
	fx.db.workspaces["w1"] = metadata.Workspace{ID: "w1", OwnerID: "u1", Name: "Main"}
	fx.db.workspaces["w2"] = metadata.Workspace{ID: "w2", OwnerID: "u2", Name: "Theirs"}
	return fx
}

func (fx *fixture) engine(opts ...Option) *Engine {
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("new-%03d", fx.seq.Add(1))
	})}, opts...)
	return New(fx.db, fx.blobs, opts...)
}

func (fx *fixture) linkFolder(link, id, name, parent string) {
	fx.db.addFolder(metadata.FolderRecord{ID: id, Name: name, LinkID: link, ParentFolderID: parent, Path: "/" + name})
}

func (fx *fixture) linkFile(link, id, name, folder string, size int) {
	key := storage.LinkKey(link, id, name)
	fx.db.addFile(metadata.FileRecord{
		ID: id, Name: name, LinkID: link, FolderID: folder, StorageKey: key,
		MimeType: "image/png", Extension: "png", Size: int64(size), ProcessingStatus: "completed",
	})
	fx.blobs.objects[storage.Shared][key] = []byte(strings.Repeat("x", size))
}
