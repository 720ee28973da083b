package tree

import (
	"github.com/google/uuid"
)

// Handlers are the user-driven mutations of one tree. They hold a handle to
// the Store and never perform network I/O; persistence happens elsewhere and
// corrections come back through Store.ApplyPatch.
type Handlers struct {
	store *Store
	newID func() string
}

// NewHandlers returns handlers operating on store.
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store, newID: uuid.NewString}
}

// Store returns the underlying tree.
func (h *Handlers) Store() *Store {
	return h.store
}

// Rename renames a node. Folder paths cascade to descendants.
func (h *Handlers) Rename(id, name string) error {
	return h.store.Rename(id, name)
}

// InternalDrop applies a drop of nodes from the same tree onto targetFolderID
// ("" for the root level). orderedIDs is the complete new child order of the
// target, including the children it already had.
func (h *Handlers) InternalDrop(targetFolderID string, orderedIDs []string) error {
	return h.store.Move(targetFolderID, orderedIDs)
}

// Insert adds n under parentID as a not-yet-persisted item and returns its
// id. A fresh id is assigned when n has none.
func (h *Handlers) Insert(parentID string, n Node) (string, error) {
	c := Clone(n)
	b := c.Base()
	if b.ID == "" {
		b.ID = h.newID()
	}
	b.ParentID = parentID
	b.SortOrder = NewItemSortOrder
	if f, ok := c.(*FolderNode); ok {
		f.Children = nil
	}
	if err := h.store.Insert(c); err != nil {
		return "", err
	}
	return b.ID, nil
}
