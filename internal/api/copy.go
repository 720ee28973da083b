package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/bridge"
	"github.com/fruitsalade/linkdrop/internal/copier"
	"github.com/fruitsalade/linkdrop/internal/events"
	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/tree"
	"github.com/fruitsalade/linkdrop/pkg/protocol"
)

// POST /api/v1/workspaces/{id}/copy
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req protocol.CopyRequest
	if !s.decode(w, r, &req) {
		return
	}
	items := make([]copier.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, copier.Item{ID: it.ID, Type: copier.ItemType(it.Type)})
	}

	userID := s.userID(r)
	workspaceID := r.PathValue("id")
	res, err := s.copier.CopySubtree(r.Context(), copier.Request{
		UserID:            userID,
		Items:             items,
		SourceLinkID:      req.SourceLinkID,
		TargetWorkspaceID: workspaceID,
		TargetFolderID:    req.TargetFolderID,
	})
	s.sendCopyResult(w, userID, workspaceID, res, err)
}

// POST /api/v1/workspaces/{id}/drop
//
// Only drops carrying the private tree payload are accepted here. Files from
// the operating system are uploaded through a link instead.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req protocol.DropRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, ok := req.DataTransfer[bridge.MIMEType]; !ok {
		s.sendError(w, http.StatusBadRequest, "drop carries no "+bridge.MIMEType+" payload")
		return
	}

	userID := s.userID(r)
	workspaceID := r.PathValue("id")
	t, err := s.workspaceTree(r.Context(), workspaceID, userID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	recv := &bridge.Receiver{
		Tree:     t,
		Copier:   s.copier,
		Handlers: tree.NewHandlers(t.Store),
		UserID:   userID,
	}
	dr, err := recv.Drop(r.Context(), bridge.DataTransfer(req.DataTransfer), req.TargetFolderID, nil)
	if dr == nil || dr.Copy == nil {
		if err == nil {
			err = errors.New("drop produced no copy result")
		}
		s.sendErr(w, err)
		return
	}
	if err != nil && !errors.Is(err, copier.ErrNothingCopied) {
		// The records exist; only the in-memory merge failed. Clients
		// reload the tree from the event.
		logging.Warn("drop merge failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		err = nil
	}
	s.sendCopyResult(w, userID, workspaceID, dr.Copy, err)
}

func (s *Server) sendCopyResult(w http.ResponseWriter, userID, workspaceID string, res *copier.Result, err error) {
	if res == nil {
		s.sendErr(w, err)
		return
	}
	resp := copyResponse(res)
	if errors.Is(err, copier.ErrNothingCopied) {
		s.sendJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		s.sendErr(w, err)
		return
	}

	s.publishNodes(userID, protocol.TreeEvent{
		Type:        events.EventCopy,
		WorkspaceID: workspaceID,
		Timestamp:   time.Now().Unix(),
	}, res.Folders, res.Files)
	s.sendJSON(w, http.StatusOK, resp)
}

func copyResponse(res *copier.Result) protocol.CopyResponse {
	out := protocol.CopyResponse{
		CopiedFiles:   res.CopiedFiles,
		CopiedFolders: res.CopiedFolders,
		FailedItems:   make([]protocol.FailedItem, 0, len(res.FailedItems)),
		FolderIDMap:   res.FolderIDMap,
	}
	for _, f := range res.FailedItems {
		out.FailedItems = append(out.FailedItems, wireFailure(f))
	}
	for _, f := range res.IncompleteFolders {
		out.IncompleteFolders = append(out.IncompleteFolders, wireFailure(f))
	}
	return out
}

func wireFailure(f copier.FailedItem) protocol.FailedItem {
	return protocol.FailedItem{
		ID:     f.ID,
		Type:   string(f.Type),
		Reason: f.Reason,
	}
}
