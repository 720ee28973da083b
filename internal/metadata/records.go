// Package metadata defines the persisted record shapes for files, folders,
// upload links and workspaces, and converts between records and tree nodes.
package metadata

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Owner identifies the partition a record lives in. Exactly one of
// WorkspaceID and LinkID is set.
type Owner struct {
	WorkspaceID string
	LinkID      string
}

// WorkspaceOwner returns the owner for a workspace partition.
func WorkspaceOwner(id string) Owner { return Owner{WorkspaceID: id} }

// LinkOwner returns the owner for an upload link partition.
func LinkOwner(id string) Owner { return Owner{LinkID: id} }

// Validate checks that exactly one partition is set.
func (o Owner) Validate() error {
	if (o.WorkspaceID == "") == (o.LinkID == "") {
		return fmt.Errorf("owner must set exactly one of workspace and link: %+v", o)
	}
	return nil
}

func (o Owner) String() string {
	if o.LinkID != "" {
		return "link:" + o.LinkID
	}
	return "workspace:" + o.WorkspaceID
}

// FileRecord is a row of the files table.
type FileRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	WorkspaceID      string `json:"workspaceId,omitempty"`
	LinkID           string `json:"linkId,omitempty"`
	FolderID         string `json:"folderId,omitempty"` // "" = root
	StorageKey       string `json:"storageKey"`
	MimeType         string `json:"mimeType,omitempty"`
	Extension        string `json:"extension,omitempty"`
	Size             int64  `json:"size"`
	SortOrder        int    `json:"sortOrder"`
	DownloadCount    int    `json:"downloadCount"`
	ProcessingStatus string `json:"processingStatus"`
}

// Owner returns the partition the file belongs to.
func (r FileRecord) Owner() Owner {
	return Owner{WorkspaceID: r.WorkspaceID, LinkID: r.LinkID}
}

// FolderRecord is a row of the folders table.
type FolderRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WorkspaceID    string `json:"workspaceId,omitempty"`
	LinkID         string `json:"linkId,omitempty"`
	ParentFolderID string `json:"parentFolderId,omitempty"` // "" = root
	Path           string `json:"path"`
	Depth          int    `json:"depth"`
	SortOrder      int    `json:"sortOrder"`
	FileCount      int    `json:"fileCount"`
	TotalSize      int64  `json:"totalSize"`
	IsArchived     bool   `json:"isArchived"`
}

// Owner returns the partition the folder belongs to.
func (r FolderRecord) Owner() Owner {
	return Owner{WorkspaceID: r.WorkspaceID, LinkID: r.LinkID}
}

// Link is an upload link. Files uploaded through it are owned by the link
// until the link owner copies them into a workspace.
type Link struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"ownerId"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	MaxUploads   int        `json:"maxUploads"`
	UploadCount  int        `json:"uploadCount"`
	IsActive     bool       `json:"isActive"`
}

// Workspace is a user's private file area.
type Workspace struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
}
