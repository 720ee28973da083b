package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/fruitsalade/linkdrop/internal/bridge"
	"github.com/fruitsalade/linkdrop/internal/copier"
	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/tree"
	"github.com/fruitsalade/linkdrop/pkg/protocol"
)

func defaultID() string { return uuid.NewString() }

// ─── Workspaces ─────────────────────────────────────────────────────────────

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.ListWorkspacesByOwner(r.Context(), s.userID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	out := make([]protocol.WorkspaceResponse, 0, len(list))
	for _, ws := range list {
		out = append(out, protocol.WorkspaceResponse{ID: ws.ID, Name: ws.Name})
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateWorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	ws := &metadata.Workspace{ID: s.newID(), OwnerID: s.userID(r), Name: req.Name}
	if err := s.db.InsertWorkspace(r.Context(), ws); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, protocol.WorkspaceResponse{ID: ws.ID, Name: ws.Name})
}

// ownedWorkspace loads a workspace the caller owns.
func (s *Server) ownedWorkspace(ctx context.Context, id, userID string) (*metadata.Workspace, error) {
	ws, err := s.db.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != userID {
		return nil, &copier.OwnershipError{Kind: "workspace", ID: id, Detail: "not owned by caller"}
	}
	return ws, nil
}

// ─── Trees ──────────────────────────────────────────────────────────────────

// workspaceTree loads the caller's workspace as a drop target.
func (s *Server) workspaceTree(ctx context.Context, id, userID string) (*bridge.Tree, error) {
	if _, err := s.ownedWorkspace(ctx, id, userID); err != nil {
		return nil, err
	}
	store, err := metadata.LoadTree(ctx, s.db, metadata.WorkspaceOwner(id), s.treeOptions...)
	if err != nil {
		return nil, err
	}
	return &bridge.Tree{
		ID:          metadata.WorkspaceOwner(id).String(),
		Type:        bridge.TreeWorkspace,
		WorkspaceID: id,
		Store:       store,
	}, nil
}

func (s *Server) handleWorkspaceTree(w http.ResponseWriter, r *http.Request) {
	t, err := s.workspaceTree(r.Context(), r.PathValue("id"), s.userID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSONMaybeGzip(w, r, treeResponse(t))
}

func (s *Server) handleLinkTree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.links.RequireOwner(r.Context(), id, s.userID(r)); err != nil {
		s.sendErr(w, err)
		return
	}
	store, err := metadata.LoadTree(r.Context(), s.db, metadata.LinkOwner(id), s.treeOptions...)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSONMaybeGzip(w, r, treeResponse(&bridge.Tree{
		ID:     metadata.LinkOwner(id).String(),
		Type:   bridge.TreeLink,
		LinkID: id,
		Store:  store,
	}))
}

func treeResponse(t *bridge.Tree) protocol.TreeResponse {
	root, _ := t.Store.Children("")
	resp := protocol.TreeResponse{
		TreeID:   t.ID,
		TreeType: string(t.Type),
		Root:     root,
		Nodes:    []protocol.TreeNode{},
	}
	if resp.Root == nil {
		resp.Root = []string{}
	}
	t.Store.Walk(func(n tree.Node) {
		resp.Nodes = append(resp.Nodes, wireNode(n))
	})
	return resp
}

// wireNode converts a tree node to its JSON shape.
func wireNode(n tree.Node) protocol.TreeNode {
	b := n.Base()
	out := protocol.TreeNode{
		ID:        b.ID,
		Name:      b.Name,
		Type:      string(n.Kind()),
		ParentID:  b.ParentID,
		SortOrder: b.SortOrder,
	}
	switch v := n.(type) {
	case *tree.FolderNode:
		out.Path = v.Path
		out.Depth = v.Depth
		out.Children = v.Children
		out.FileCount = v.FileCount
		out.TotalSize = v.TotalSize
		out.IsArchived = v.IsArchived
	case *tree.FileNode:
		out.MimeType = v.MimeType
		out.FileSize = v.FileSize
		out.Extension = v.Extension
		out.ProcessingStatus = string(v.ProcessingStatus)
	default:
		panic("api: unknown node type")
	}
	return out
}
