// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/auth"
	"github.com/fruitsalade/linkdrop/internal/bridge"
	"github.com/fruitsalade/linkdrop/internal/copier"
	"github.com/fruitsalade/linkdrop/internal/events"
	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/metadata/sqldb"
	"github.com/fruitsalade/linkdrop/internal/metrics"
	"github.com/fruitsalade/linkdrop/internal/quota"
	"github.com/fruitsalade/linkdrop/internal/sharing"
	"github.com/fruitsalade/linkdrop/internal/storage"
	"github.com/fruitsalade/linkdrop/internal/tree"
	"github.com/fruitsalade/linkdrop/pkg/protocol"
)

// Pool gzip writers to reduce allocations on tree endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Deps bundles the server's collaborators.
type Deps struct {
	DB          *sqldb.Store
	Storage     *storage.Router
	Auth        *auth.Auth
	Copier      *copier.Engine
	Links       *sharing.LinkStore
	Broadcaster *events.Broadcaster
	RateLimiter *quota.RateLimiter

	MaxUploadSize int64
	PublicURL     string
	TreeOptions   []tree.Option
	NewID         func() string
}

// Server is the HTTP server.
type Server struct {
	db          *sqldb.Store
	storage     *storage.Router
	auth        *auth.Auth
	copier      *copier.Engine
	links       *sharing.LinkStore
	broadcaster *events.Broadcaster
	rateLimiter *quota.RateLimiter

	maxUploadSize int64
	publicURL     string
	treeOptions   []tree.Option
	newID         func() string
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	s := &Server{
		db:            d.DB,
		storage:       d.Storage,
		auth:          d.Auth,
		copier:        d.Copier,
		links:         d.Links,
		broadcaster:   d.Broadcaster,
		rateLimiter:   d.RateLimiter,
		maxUploadSize: d.MaxUploadSize,
		publicURL:     strings.TrimSuffix(d.PublicURL, "/"),
		treeOptions:   d.TreeOptions,
		newID:         d.NewID,
	}
	if s.rateLimiter == nil {
		s.rateLimiter = quota.NewRateLimiter(0)
	}
	if s.broadcaster == nil {
		s.broadcaster = events.NewBroadcaster()
	}
	if s.newID == nil {
		s.newID = defaultID
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/links/{id}/upload", s.handleUpload)

	// Authenticated API
	apiMux := http.NewServeMux()
	rateLimited := quota.RateLimitMiddleware(s.rateLimiter, func(ctx context.Context) (string, bool) {
		claims := auth.GetClaims(ctx)
		if claims == nil {
			return "", false
		}
		return claims.UserID, true
	})

	apiMux.HandleFunc("GET /api/v1/events", s.handleEvents)

	apiMux.HandleFunc("GET /api/v1/workspaces", s.handleListWorkspaces)
	apiMux.HandleFunc("POST /api/v1/workspaces", s.handleCreateWorkspace)
	apiMux.HandleFunc("GET /api/v1/workspaces/{id}/tree", s.handleWorkspaceTree)
	apiMux.Handle("POST /api/v1/workspaces/{id}/copy", rateLimited(http.HandlerFunc(s.handleCopy)))
	apiMux.Handle("POST /api/v1/workspaces/{id}/drop", rateLimited(http.HandlerFunc(s.handleDrop)))

	apiMux.HandleFunc("GET /api/v1/links", s.handleListLinks)
	apiMux.HandleFunc("POST /api/v1/links", s.handleCreateLink)
	apiMux.HandleFunc("GET /api/v1/links/{id}/tree", s.handleLinkTree)
	apiMux.HandleFunc("DELETE /api/v1/links/{id}", s.handleRevokeLink)

	mux.Handle("/api/v1/", s.auth.Middleware(apiMux))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := protocol.HealthResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		logging.Warn("health check: database unreachable", zap.Error(err))
		resp.Status, resp.Database = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	claims := auth.GetClaims(r.Context())

	// Subscribe before the headers go out so a client that saw the response
	// does not miss events published right after.
	ch := s.broadcaster.Subscribe(claims.UserID)
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishNodes announces created records to their owner's subscribers.
func (s *Server) publishNodes(userID string, ev protocol.TreeEvent, folders []metadata.FolderRecord, files []metadata.FileRecord) {
	for _, n := range metadata.Nodes(folders, files) {
		ev.Upserts = append(ev.Upserts, wireNode(n))
	}
	s.broadcaster.Publish(events.Event{UserID: userID, TreeEvent: ev})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) userID(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sendJSONMaybeGzip compresses large read responses when the client allows.
func (s *Server) sendJSONMaybeGzip(w http.ResponseWriter, r *http.Request, v any) {
	if !acceptsGzip(r) {
		s.sendJSON(w, http.StatusOK, v)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	gw := gzipPool.Get().(*gzip.Writer)
	gw.Reset(w)
	json.NewEncoder(gw).Encode(v)
	gw.Close()
	gzipPool.Put(gw)
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendErr maps domain errors to status codes.
func (s *Server) sendErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, code, "internal error")
		return
	}
	s.sendError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, copier.ErrInvalidRequest),
		errors.Is(err, bridge.ErrInvalidPayload),
		errors.Is(err, bridge.ErrNoPayload),
		errors.Is(err, tree.ErrNotFolder),
		errors.Is(err, tree.ErrInvalidName),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, copier.ErrOwnership),
		errors.Is(err, bridge.ErrRejected):
		return http.StatusForbidden
	case errors.Is(err, copier.ErrNotFound),
		errors.Is(err, tree.ErrNotFound),
		errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, sharing.ErrLinkNotFound):
		return http.StatusNotFound
	case errors.Is(err, copier.ErrNothingCopied):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sharing.ErrRevoked),
		errors.Is(err, sharing.ErrExpired):
		return http.StatusGone
	case errors.Is(err, sharing.ErrLimitReached):
		return http.StatusForbidden
	case errors.Is(err, sharing.ErrPasswordRequired),
		errors.Is(err, sharing.ErrInvalidPassword):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
