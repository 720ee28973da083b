// Package protocol defines the API request/response types.
package protocol

import "time"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// TreeNode is one node of a tree snapshot. Folder-only and file-only fields
// are omitted for the other kind.
type TreeNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // "file" or "folder"
	ParentID  string `json:"parentId,omitempty"`
	SortOrder int    `json:"sortOrder"`

	Path       string   `json:"path,omitempty"`
	Depth      int      `json:"depth,omitempty"`
	Children   []string `json:"children,omitempty"`
	FileCount  int      `json:"fileCount,omitempty"`
	TotalSize  int64    `json:"totalSize,omitempty"`
	IsArchived bool     `json:"isArchived,omitempty"`

	MimeType         string `json:"mimeType,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty"`
	Extension        string `json:"extension,omitempty"`
	ProcessingStatus string `json:"processingStatus,omitempty"`
}

// TreeResponse is returned by GET /api/v1/workspaces/{id}/tree and
// GET /api/v1/links/{id}/tree. Nodes are in depth-first display order.
type TreeResponse struct {
	TreeID   string     `json:"treeId"`
	TreeType string     `json:"treeType"` // "link" or "workspace"
	Root     []string   `json:"root"`
	Nodes    []TreeNode `json:"nodes"`
}

// CopyItem selects one source item.
type CopyItem struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "file" or "folder"
}

// CopyRequest is the body for POST /api/v1/workspaces/{id}/copy
type CopyRequest struct {
	SourceLinkID   string     `json:"sourceLinkId"`
	TargetFolderID string     `json:"targetFolderId,omitempty"`
	Items          []CopyItem `json:"items"`
}

// FailedItem is a source item that could not be copied.
type FailedItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// CopyResponse reports a copy batch. It is also the body of a 422 when no
// item could be copied.
type CopyResponse struct {
	CopiedFiles   int          `json:"copiedFiles"`
	CopiedFolders int          `json:"copiedFolders"`
	FailedItems   []FailedItem `json:"failedItems"`
	// IncompleteFolders were copied but are missing children that could
	// not be listed. Retry them into the folder FolderIDMap names.
	IncompleteFolders []FailedItem      `json:"incompleteFolders,omitempty"`
	FolderIDMap       map[string]string `json:"folderIdMap,omitempty"`
}

// DropRequest is the body for POST /api/v1/workspaces/{id}/drop
type DropRequest struct {
	DataTransfer   map[string]string `json:"dataTransfer"`
	TargetFolderID string            `json:"targetFolderId,omitempty"`
}

// CreateLinkRequest is the body for POST /api/v1/links
type CreateLinkRequest struct {
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	ExpiresInSec int64  `json:"expiresInSec,omitempty"`
	MaxUploads   int    `json:"maxUploads,omitempty"`
}

// LinkResponse describes an upload link.
type LinkResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	HasPassword bool       `json:"hasPassword"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	MaxUploads  int        `json:"maxUploads"`
	UploadCount int        `json:"uploadCount"`
	IsActive    bool       `json:"isActive"`
}

// UploadResponse is returned by POST /api/v1/links/{id}/upload
type UploadResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FolderID  string `json:"folderId,omitempty"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension,omitempty"`
}

// CreateWorkspaceRequest is the body for POST /api/v1/workspaces
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

// WorkspaceResponse describes a workspace.
type WorkspaceResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TreeEvent is published over SSE when a tree changes. Exactly one of
// WorkspaceID and LinkID is set.
type TreeEvent struct {
	Type        string     `json:"type"` // "copy" or "upload"
	WorkspaceID string     `json:"workspaceId,omitempty"`
	LinkID      string     `json:"linkId,omitempty"`
	Upserts     []TreeNode `json:"upserts,omitempty"`
	Removes     []string   `json:"removes,omitempty"`
	Timestamp   int64      `json:"timestamp"`
}
