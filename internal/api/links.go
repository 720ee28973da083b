package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/events"
	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/sharing"
	"github.com/fruitsalade/linkdrop/internal/storage"
	"github.com/fruitsalade/linkdrop/internal/tree"
	"github.com/fruitsalade/linkdrop/pkg/protocol"
)

// ─── Link management ────────────────────────────────────────────────────────

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ExpiresInSec < 0 || req.MaxUploads < 0 {
		s.sendError(w, http.StatusBadRequest, "expiresInSec and maxUploads must not be negative")
		return
	}

	link, err := s.links.Create(r.Context(), s.userID(r), req.Name, sharing.CreateOptions{
		Password:     req.Password,
		ExpiresInSec: req.ExpiresInSec,
		MaxUploads:   req.MaxUploads,
	})
	if err != nil {
		s.sendErr(w, err)
		return
	}
	logging.Info("upload link created", zap.String("link_id", link.ID), zap.String("user_id", link.OwnerID))
	s.sendJSON(w, http.StatusCreated, s.linkResponse(link))
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.links.ListByOwner(r.Context(), s.userID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	out := make([]protocol.LinkResponse, 0, len(links))
	for i := range links {
		out = append(out, s.linkResponse(&links[i]))
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	if err := s.links.Revoke(r.Context(), r.PathValue("id"), s.userID(r)); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) linkResponse(l *metadata.Link) protocol.LinkResponse {
	return protocol.LinkResponse{
		ID:          l.ID,
		Name:        l.Name,
		URL:         s.publicURL + "/api/v1/links/" + l.ID + "/upload",
		HasPassword: l.PasswordHash != "",
		ExpiresAt:   l.ExpiresAt,
		MaxUploads:  l.MaxUploads,
		UploadCount: l.UploadCount,
		IsActive:    l.IsActive,
	}
}

// ─── Public upload ──────────────────────────────────────────────────────────

// POST /api/v1/links/{id}/upload?name=...&folderId=...
//
// The request body is the raw file content. Password-protected links expect
// the password in X-Link-Password.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	linkID := r.PathValue("id")

	link, err := s.links.Validate(ctx, linkID, r.Header.Get("X-Link-Password"))
	if err != nil {
		s.sendErr(w, err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		s.sendError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if r.ContentLength < 0 {
		s.sendError(w, http.StatusLengthRequired, "Content-Length is required")
		return
	}
	if s.maxUploadSize > 0 && r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}

	var folder *metadata.FolderRecord
	if id := r.URL.Query().Get("folderId"); id != "" {
		folder, err = s.db.GetFolder(ctx, id)
		if err != nil {
			s.sendErr(w, err)
			return
		}
		if folder.LinkID != linkID {
			s.sendError(w, http.StatusNotFound, "folder "+id+" not found")
			return
		}
	}

	fileID := s.newID()
	key := storage.LinkKey(linkID, fileID, name)
	body := http.MaxBytesReader(w, r.Body, r.ContentLength)
	if err := s.storage.PutBlob(ctx, key, body, r.ContentLength, storage.Shared); err != nil {
		s.sendErr(w, err)
		return
	}

	rec := &metadata.FileRecord{
		ID:               fileID,
		Name:             name,
		LinkID:           linkID,
		StorageKey:       key,
		MimeType:         tree.MimeType(name),
		Extension:        tree.Extension(name),
		Size:             r.ContentLength,
		ProcessingStatus: string(tree.StatusCompleted),
	}
	if folder != nil {
		rec.FolderID = folder.ID
	}
	if err := s.db.InsertFile(ctx, rec); err != nil {
		s.discardBlob(ctx, key)
		s.sendErr(w, err)
		return
	}
	// The count is taken only once the record exists; a lost race for the
	// last slot rolls the record back.
	if err := s.links.RecordUpload(ctx, linkID); err != nil {
		if derr := s.db.DeleteFile(context.WithoutCancel(ctx), fileID); derr != nil {
			logging.Warn("failed to roll back upload record", zap.String("file_id", fileID), zap.Error(derr))
		}
		s.discardBlob(ctx, key)
		s.sendErr(w, err)
		return
	}
	if folder != nil {
		if err := s.db.AddFolderStats(ctx, folder.ID, 1, rec.Size); err != nil {
			logging.Warn("failed to update folder stats", zap.String("folder_id", folder.ID), zap.Error(err))
		}
	}

	logging.Info("file uploaded through link",
		zap.String("link_id", linkID),
		zap.String("file_id", fileID),
		zap.Int64("size", rec.Size))

	s.publishNodes(link.OwnerID, protocol.TreeEvent{
		Type:      events.EventUpload,
		LinkID:    linkID,
		Timestamp: time.Now().Unix(),
	}, nil, []metadata.FileRecord{*rec})

	s.sendJSON(w, http.StatusCreated, protocol.UploadResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		FolderID:  rec.FolderID,
		Size:      rec.Size,
		MimeType:  rec.MimeType,
		Extension: rec.Extension,
	})
}

func (s *Server) discardBlob(ctx context.Context, key string) {
	if err := s.storage.DeleteBlob(context.WithoutCancel(ctx), key, storage.Shared); err != nil {
		logging.Warn("failed to remove orphaned upload", zap.String("key", key), zap.Error(err))
	}
}
