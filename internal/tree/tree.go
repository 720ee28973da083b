// Package tree keeps a mutable file/folder hierarchy internally consistent.
//
// Nodes live in a single id-indexed arena owned by Store. Every mutation goes
// through Store's methods, which re-establish the structural invariants before
// returning:
//
//  1. a folder's Children lists exactly the nodes whose ParentID is that folder,
//     and no id appears in two Children lists;
//  2. the graph is acyclic;
//  3. Children is always ordered by Compare;
//  4. folder Path and Depth agree with the parent folder.
//
// Folder paths are stored denormalized. Renames and moves cascade the new Path
// and Depth to every descendant folder immediately.
package tree

import (
	"strings"
)

// Kind discriminates the node variants.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// ProcessingStatus tracks server-side processing of an uploaded file.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// NewItemSortOrder is assigned to items that have not been persisted yet so
// they sort ahead of their persisted siblings.
const NewItemSortOrder = -1

// Node is either a *FileNode or a *FolderNode.
type Node interface {
	Kind() Kind
	Base() *NodeBase
	clone() Node
}

// NodeBase holds the fields shared by every node.
type NodeBase struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentID  string `json:"parentId,omitempty"` // "" means root level
	SortOrder int    `json:"sortOrder"`
}

// FileNode is a leaf.
type FileNode struct {
	NodeBase
	MimeType         string           `json:"mimeType,omitempty"`
	FileSize         int64            `json:"fileSize"`
	Extension        string           `json:"extension,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
}

// FolderNode is an interior node. Path and Depth are derived by the Store;
// values supplied by callers are overwritten.
type FolderNode struct {
	NodeBase
	Path       string   `json:"path"`
	Depth      int      `json:"depth"`
	Children   []string `json:"children"`
	FileCount  int      `json:"fileCount"`
	TotalSize  int64    `json:"totalSize"`
	IsArchived bool     `json:"isArchived"`
}

func (n *FileNode) Kind() Kind { return KindFile }

func (n *FileNode) Base() *NodeBase { return &n.NodeBase }

func (n *FileNode) clone() Node {
	c := *n
	return &c
}

func (n *FolderNode) Kind() Kind { return KindFolder }

func (n *FolderNode) Base() *NodeBase { return &n.NodeBase }

func (n *FolderNode) clone() Node {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	return &c
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	if n == nil {
		return nil
	}
	return n.clone()
}

// sameContent reports whether two nodes carry the same caller-owned fields.
// Derived fields (Path, Depth, Children) are ignored.
func sameContent(a, b Node) bool {
	switch x := a.(type) {
	case *FileNode:
		y, ok := b.(*FileNode)
		return ok && *x == *y
	case *FolderNode:
		y, ok := b.(*FolderNode)
		return ok && x.NodeBase == y.NodeBase &&
			x.FileCount == y.FileCount &&
			x.TotalSize == y.TotalSize &&
			x.IsArchived == y.IsArchived
	default:
		panic(unknownKind(a))
	}
}

// ChildPath constructs a folder path from its parent's path and its name.
func ChildPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}
