package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/copier"
	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/tree"
)

// Tree describes one loaded tree instance.
type Tree struct {
	ID          string
	Type        TreeType
	LinkID      string
	WorkspaceID string
	Store       *tree.Store
}

// CanAccept reports whether a drop of p onto t is allowed. Only link to
// workspace drops are supported; link content is immutable from the
// workspace side.
func (t *Tree) CanAccept(p *Payload) error {
	switch {
	case p.SourceTreeID == t.ID:
		return fmt.Errorf("%w: payload comes from this tree", ErrRejected)
	case t.Type != TreeWorkspace:
		return fmt.Errorf("%w: %s trees are read-only", ErrRejected, t.Type)
	case p.SourceType != TreeLink:
		return fmt.Errorf("%w: cannot copy from a %s tree", ErrRejected, p.SourceType)
	}
	return nil
}

// Copier runs a subtree copy.
type Copier interface {
	CopySubtree(ctx context.Context, req copier.Request) (*copier.Result, error)
}

// Receiver handles drops onto a workspace tree.
type Receiver struct {
	Tree     *Tree
	Copier   Copier
	Handlers *tree.Handlers
	UserID   string
}

// DropResult is the outcome of a drop. Exactly one field is set.
type DropResult struct {
	Copy    *copier.Result
	Foreign *tree.ForeignDropResult
}

// Drop dispatches a drop onto targetFolderID ("" for the root). Bridge
// payloads are copied and the created records merged into the tree; drops
// without the private key are treated as OS drops of osEntries.
//
// A partially failed copy returns its result with a nil error. When nothing
// could be copied the result is returned with copier.ErrNothingCopied.
func (r *Receiver) Drop(ctx context.Context, dt DataTransfer, targetFolderID string, osEntries []tree.DropEntry) (*DropResult, error) {
	p, err := Decode(dt)
	if errors.Is(err, ErrNoPayload) {
		res, err := r.Handlers.ForeignDrop(ctx, targetFolderID, osEntries)
		if err != nil {
			return nil, err
		}
		return &DropResult{Foreign: res}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.Tree.CanAccept(p); err != nil {
		return nil, err
	}
	if err := r.resolveTarget(targetFolderID); err != nil {
		return nil, err
	}

	res, err := r.Copier.CopySubtree(ctx, copier.Request{
		UserID:            r.UserID,
		Items:             p.CopyItems(),
		SourceLinkID:      p.SourceLinkID,
		TargetWorkspaceID: r.Tree.WorkspaceID,
		TargetFolderID:    targetFolderID,
	})
	if res == nil {
		return nil, err
	}
	if mergeErr := r.merge(res); mergeErr != nil {
		return &DropResult{Copy: res}, mergeErr
	}
	return &DropResult{Copy: res}, err
}

func (r *Receiver) resolveTarget(id string) error {
	if id == "" {
		return nil
	}
	n, err := r.Tree.Store.Get(id)
	if err != nil {
		return err
	}
	if n.Kind() != tree.KindFolder {
		return fmt.Errorf("drop target %s: %w", id, tree.ErrNotFolder)
	}
	return nil
}

// merge adds the records the copier created. Nothing from the source tree is
// merged directly.
func (r *Receiver) merge(res *copier.Result) error {
	if len(res.Files)+len(res.Folders) == 0 {
		return nil
	}
	nodes := metadata.Nodes(res.Folders, res.Files)
	if err := r.Tree.Store.ApplyPatch(tree.Patch{Upserts: nodes}); err != nil {
		logging.Error("failed to merge copied nodes",
			zap.String("tree_id", r.Tree.ID), zap.Int("nodes", len(nodes)), zap.Error(err))
		return fmt.Errorf("merge copied nodes: %w", err)
	}
	return nil
}
