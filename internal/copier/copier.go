// Package copier copies subtrees owned by an upload link into a workspace.
//
// A copy duplicates blobs from the shared bucket into the workspace bucket
// and inserts new, workspace-owned records with fresh ids. Link-owned data is
// never modified. Failures are tracked per item: a batch succeeds as long as
// at least one item was copied.
package copier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/metrics"
	"github.com/fruitsalade/linkdrop/internal/storage"
	"github.com/fruitsalade/linkdrop/internal/tree"
)

// Database is the metadata access the engine needs.
type Database interface {
	GetFile(ctx context.Context, id string) (*metadata.FileRecord, error)
	GetFolder(ctx context.Context, id string) (*metadata.FolderRecord, error)
	ListFiles(ctx context.Context, owner metadata.Owner, folderID string) ([]metadata.FileRecord, error)
	ListFolders(ctx context.Context, owner metadata.Owner, parentID string) ([]metadata.FolderRecord, error)
	InsertFile(ctx context.Context, r *metadata.FileRecord) error
	InsertFolder(ctx context.Context, r *metadata.FolderRecord) error
	DeleteFile(ctx context.Context, id string) error
	DeleteFolder(ctx context.Context, id string) error
	UpdateFolderStats(ctx context.Context, id string, fileCount int, totalSize int64) error
	GetLink(ctx context.Context, id string) (*metadata.Link, error)
	GetWorkspace(ctx context.Context, id string) (*metadata.Workspace, error)
}

// BlobStore copies and deletes blobs across bucket contexts.
type BlobStore interface {
	CopyBlob(ctx context.Context, srcKey, dstKey string, srcCtx, dstCtx storage.BucketContext) (string, error)
	DeleteBlob(ctx context.Context, key string, bc storage.BucketContext) error
}

// ItemType is the kind of a copied item.
type ItemType string

const (
	ItemFile   ItemType = "file"
	ItemFolder ItemType = "folder"
)

// Item is one selected source item.
type Item struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`
}

// Request describes a copy from an upload link into a workspace.
type Request struct {
	UserID            string
	Items             []Item
	SourceLinkID      string
	TargetWorkspaceID string
	TargetFolderID    string // "" = workspace root
}

func (r Request) validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case r.SourceLinkID == "":
		return fmt.Errorf("%w: missing source link", ErrInvalidRequest)
	case r.TargetWorkspaceID == "":
		return fmt.Errorf("%w: missing target workspace", ErrInvalidRequest)
	case len(r.Items) == 0:
		return fmt.Errorf("%w: no items", ErrInvalidRequest)
	}
	for _, it := range r.Items {
		if it.ID == "" || (it.Type != ItemFile && it.Type != ItemFolder) {
			return fmt.Errorf("%w: bad item %+v", ErrInvalidRequest, it)
		}
	}
	return nil
}

// FailedItem is a source item that could not be copied.
type FailedItem struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	Reason string   `json:"reason"`
}

// Result reports the outcome of a batch.
type Result struct {
	CopiedFiles   int          `json:"copiedFiles"`
	CopiedFolders int          `json:"copiedFolders"`
	FailedItems   []FailedItem `json:"failedItems"`
	// IncompleteFolders are source folders that were copied but whose
	// children could not all be listed. They are already counted in
	// CopiedFolders and FolderIDMap; a retry targets the created folder.
	IncompleteFolders []FailedItem `json:"incompleteFolders"`
	// FolderIDMap maps source folder ids to the created folder ids.
	FolderIDMap map[string]string `json:"folderIdMap"`
	// Files and Folders are the created records.
	Files   []metadata.FileRecord   `json:"files"`
	Folders []metadata.FolderRecord `json:"folders"`
}

// Engine copies link subtrees into workspaces.
type Engine struct {
	db              Database
	blobs           BlobStore
	sem             *semaphore.Weighted
	maxStorageOps   int64
	fileConcurrency int
	newID           func() string
	logger          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxStorageOps bounds concurrent storage operations across all batches.
func WithMaxStorageOps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxStorageOps = int64(n)
		}
	}
}

// WithFileConcurrency bounds concurrent file copies within one folder.
func WithFileConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fileConcurrency = n
		}
	}
}

// WithIDGenerator replaces the id generator. Used in tests.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(db Database, blobs BlobStore, opts ...Option) *Engine {
	e := &Engine{
		db:              db,
		blobs:           blobs,
		maxStorageOps:   8,
		fileConcurrency: 4,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.L()
	}
	e.sem = semaphore.NewWeighted(e.maxStorageOps)
	return e
}

// destination is where new records are created.
type destination struct {
	folderID string // "" = workspace root
	path     string // path of folderID, "" at the root
	depth    int    // depth of records created here
}

// batch holds the shared state of one CopySubtree call.
type batch struct {
	e   *Engine
	req Request

	mu  sync.Mutex
	res Result
}

// CopySubtree copies the requested items. Precondition failures are returned
// as errors and nothing is copied. Item failures are reported in the result.
// When no item could be copied the result is returned with ErrNothingCopied.
//
// The copy runs to completion even if ctx is cancelled.
func (e *Engine) CopySubtree(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With(
		zap.String("user_id", req.UserID),
		zap.String("link_id", req.SourceLinkID),
		zap.String("workspace_id", req.TargetWorkspaceID))

	dest, err := e.checkPreconditions(ctx, req)
	if err != nil {
		metrics.RecordCopyBatch("rejected", time.Since(start))
		log.Warn("copy rejected", zap.Error(err))
		return nil, err
	}

	b := &batch{e: e, req: req, res: Result{FolderIDMap: make(map[string]string)}}
	var g errgroup.Group
	for _, it := range req.Items {
		g.Go(func() error {
			b.copyItem(ctx, it, dest)
			return nil
		})
	}
	_ = g.Wait()

	res := &b.res
	outcome := "complete"
	switch {
	case res.CopiedFiles+res.CopiedFolders == 0:
		outcome = "failed"
	case len(res.FailedItems) > 0, len(res.IncompleteFolders) > 0:
		outcome = "partial"
	}
	metrics.RecordCopyBatch(outcome, time.Since(start))
	log.Info("copy batch finished",
		zap.String("outcome", outcome),
		zap.Int("copied_files", res.CopiedFiles),
		zap.Int("copied_folders", res.CopiedFolders),
		zap.Int("failed", len(res.FailedItems)),
		zap.Int("incomplete_folders", len(res.IncompleteFolders)),
		zap.Duration("duration", time.Since(start)))

	if outcome == "failed" {
		return res, ErrNothingCopied
	}
	return res, nil
}

func (e *Engine) checkPreconditions(ctx context.Context, req Request) (destination, error) {
	link, err := e.db.GetLink(ctx, req.SourceLinkID)
	if err != nil {
		return destination{}, lookupErr("link", req.SourceLinkID, err)
	}
	if link.OwnerID != req.UserID {
		return destination{}, &OwnershipError{Kind: "link", ID: link.ID, Detail: "not owned by user " + req.UserID}
	}

	ws, err := e.db.GetWorkspace(ctx, req.TargetWorkspaceID)
	if err != nil {
		return destination{}, lookupErr("workspace", req.TargetWorkspaceID, err)
	}
	if ws.OwnerID != req.UserID {
		return destination{}, &OwnershipError{Kind: "workspace", ID: ws.ID, Detail: "not owned by user " + req.UserID}
	}

	if req.TargetFolderID == "" {
		return destination{}, nil
	}
	f, err := e.db.GetFolder(ctx, req.TargetFolderID)
	if err != nil {
		return destination{}, lookupErr("folder", req.TargetFolderID, err)
	}
	if f.WorkspaceID != req.TargetWorkspaceID {
		return destination{}, &OwnershipError{Kind: "folder", ID: f.ID, Detail: "not in workspace " + req.TargetWorkspaceID}
	}
	return destination{folderID: f.ID, path: f.Path, depth: f.Depth + 1}, nil
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, metadata.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

func (b *batch) copyItem(ctx context.Context, it Item, dest destination) {
	switch it.Type {
	case ItemFile:
		src, err := b.e.db.GetFile(ctx, it.ID)
		if err != nil {
			b.fail(it.ID, ItemFile, lookupErr("file", it.ID, err))
			return
		}
		b.copyFile(ctx, src, dest)
	case ItemFolder:
		src, err := b.e.db.GetFolder(ctx, it.ID)
		if err != nil {
			b.fail(it.ID, ItemFolder, lookupErr("folder", it.ID, err))
			return
		}
		b.copyFolder(ctx, src, dest)
	default:
		panic(fmt.Sprintf("copier: unknown item type %q", it.Type))
	}
}

// copyFile copies one blob and inserts its record. It returns the new record
// or nil when the file failed.
func (b *batch) copyFile(ctx context.Context, src *metadata.FileRecord, dest destination) *metadata.FileRecord {
	if src.LinkID != b.req.SourceLinkID {
		b.fail(src.ID, ItemFile, &OwnershipError{Kind: "file", ID: src.ID, Detail: "does not belong to link " + b.req.SourceLinkID})
		return nil
	}

	newID := b.e.newID()
	dstKey := storage.WorkspaceKey(b.req.UserID, b.req.TargetWorkspaceID, newID, src.Name)
	if err := storage.ValidateWorkspaceKey(dstKey, b.req.UserID); err != nil {
		b.fail(src.ID, ItemFile, &StorageError{Op: "copy", Key: dstKey, Err: err})
		return nil
	}

	err := b.e.storageOp(ctx, func() error {
		_, err := b.e.blobs.CopyBlob(ctx, src.StorageKey, dstKey, storage.Shared, storage.Workspace)
		return err
	})
	if err != nil {
		b.fail(src.ID, ItemFile, &StorageError{Op: "copy", Key: src.StorageKey, Err: err})
		return nil
	}

	rec := metadata.FileRecord{
		ID:               newID,
		Name:             src.Name,
		WorkspaceID:      b.req.TargetWorkspaceID,
		FolderID:         dest.folderID,
		StorageKey:       dstKey,
		MimeType:         src.MimeType,
		Extension:        src.Extension,
		Size:             src.Size,
		SortOrder:        tree.NewItemSortOrder,
		DownloadCount:    0,
		ProcessingStatus: src.ProcessingStatus,
	}
	if err := b.e.db.InsertFile(ctx, &rec); err != nil {
		// The blob has no record pointing at it; remove it.
		delErr := b.e.storageOp(ctx, func() error {
			return b.e.blobs.DeleteBlob(ctx, dstKey, storage.Workspace)
		})
		if delErr != nil {
			b.e.logger.Warn("failed to remove copied blob after insert failure",
				zap.String("key", dstKey), zap.Error(delErr))
		}
		b.fail(src.ID, ItemFile, fmt.Errorf("insert file record: %w", err))
		return nil
	}

	metrics.RecordCopyItem(string(ItemFile), true)
	b.mu.Lock()
	b.res.CopiedFiles++
	b.res.Files = append(b.res.Files, rec)
	b.mu.Unlock()
	return &rec
}

// copyFolder creates the destination folder, then copies its direct files
// and recurses into its subfolders concurrently. The new folder's stats cover
// its direct files only.
func (b *batch) copyFolder(ctx context.Context, src *metadata.FolderRecord, dest destination) {
	if src.LinkID != b.req.SourceLinkID {
		b.fail(src.ID, ItemFolder, &OwnershipError{Kind: "folder", ID: src.ID, Detail: "does not belong to link " + b.req.SourceLinkID})
		return
	}

	rec := metadata.FolderRecord{
		ID:             b.e.newID(),
		Name:           src.Name,
		WorkspaceID:    b.req.TargetWorkspaceID,
		ParentFolderID: dest.folderID,
		Path:           tree.ChildPath(dest.path, src.Name),
		Depth:          dest.depth,
		SortOrder:      tree.NewItemSortOrder,
	}
	if err := b.e.db.InsertFolder(ctx, &rec); err != nil {
		b.fail(src.ID, ItemFolder, fmt.Errorf("insert folder record: %w", err))
		return
	}
	metrics.RecordCopyItem(string(ItemFolder), true)
	b.mu.Lock()
	b.res.CopiedFolders++
	b.res.FolderIDMap[src.ID] = rec.ID
	b.mu.Unlock()

	owner := metadata.LinkOwner(b.req.SourceLinkID)
	files, err := b.e.db.ListFiles(ctx, owner, src.ID)
	if err != nil {
		b.incomplete(src.ID, fmt.Errorf("list files: %w", err))
	}
	subfolders, err := b.e.db.ListFolders(ctx, owner, src.ID)
	if err != nil {
		b.incomplete(src.ID, fmt.Errorf("list folders: %w", err))
	}

	inner := destination{folderID: rec.ID, path: rec.Path, depth: rec.Depth + 1}
	var (
		statsMu   sync.Mutex
		fileCount int
		totalSize int64
	)
	var fileGroup errgroup.Group
	fileGroup.SetLimit(b.e.fileConcurrency)
	var folderGroup errgroup.Group

	for _, sub := range subfolders {
		folderGroup.Go(func() error {
			b.copyFolder(ctx, &sub, inner)
			return nil
		})
	}
	for _, f := range files {
		fileGroup.Go(func() error {
			if created := b.copyFile(ctx, &f, inner); created != nil {
				statsMu.Lock()
				fileCount++
				totalSize += created.Size
				statsMu.Unlock()
			}
			return nil
		})
	}
	_ = fileGroup.Wait()
	_ = folderGroup.Wait()

	if err := b.e.db.UpdateFolderStats(ctx, rec.ID, fileCount, totalSize); err != nil {
		b.e.logger.Warn("failed to update folder stats",
			zap.String("folder_id", rec.ID), zap.Error(err))
	} else {
		rec.FileCount, rec.TotalSize = fileCount, totalSize
	}

	b.mu.Lock()
	b.res.Folders = append(b.res.Folders, rec)
	b.mu.Unlock()
}

func (b *batch) fail(id string, typ ItemType, err error) {
	metrics.RecordCopyItem(string(typ), false)
	b.e.logger.Debug("copy item failed",
		zap.String("id", id), zap.String("type", string(typ)), zap.Error(err))
	b.mu.Lock()
	b.res.FailedItems = append(b.res.FailedItems, FailedItem{ID: id, Type: typ, Reason: err.Error()})
	b.mu.Unlock()
}

// incomplete reports a copied folder whose source children were not all
// listed. The folder itself stays in the result as copied.
func (b *batch) incomplete(id string, err error) {
	b.e.logger.Warn("copied folder is missing children",
		zap.String("id", id), zap.Error(err))
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.res.IncompleteFolders {
		if f := &b.res.IncompleteFolders[i]; f.ID == id {
			f.Reason += "; " + err.Error()
			return
		}
	}
	b.res.IncompleteFolders = append(b.res.IncompleteFolders, FailedItem{ID: id, Type: ItemFolder, Reason: err.Error()})
}

// storageOp runs fn while holding one of the engine's storage slots.
func (e *Engine) storageOp(ctx context.Context, fn func() error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.AddCopyStorageOpsInFlight(1)
	defer func() {
		metrics.AddCopyStorageOpsInFlight(-1)
		e.sem.Release(1)
	}()
	return fn()
}
