package tree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestInsertIsOptimistic(t *testing.T) {
	s := sampleTree(t)
	h := NewHandlers(s)

	id, err := h.Insert("d", &FileNode{NodeBase: NodeBase{Name: "zz.txt", SortOrder: 5}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	n, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, NewItemSortOrder, n.Base().SortOrder)

	// New items sort ahead of persisted siblings regardless of kind or name.
	children, _ := s.Children("d")
	if diff := cmp.Diff([]string{id, "w", "f1"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	fid, err := h.Insert("", &FolderNode{NodeBase: NodeBase{ID: "new", Name: "new"}, Children: []string{"bogus"}})
	require.NoError(t, err)
	require.Equal(t, "new", fid)
	f := mustFolder(t, s, "new")
	require.Empty(t, f.Children)
	require.Equal(t, "/new", f.Path)

	_, err = h.Insert("", &FileNode{NodeBase: NodeBase{ID: "new", Name: "dup"}})
	require.ErrorIs(t, err, ErrExists)
	assertConsistent(t, s)
}

func TestInsertAssignsFreshIDs(t *testing.T) {
	h := NewHandlers(newTestStore(t))
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := h.Insert("", &FileNode{NodeBase: NodeBase{Name: "same.txt"}})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
	require.Equal(t, 20, h.Store().Len())
}

func TestInternalDrop(t *testing.T) {
	s := sampleTree(t)
	h := NewHandlers(s)

	require.NoError(t, h.InternalDrop("d", []string{"f1", "f3", "w"}))
	children, _ := s.Children("d")
	if diff := cmp.Diff([]string{"f1", "f3", "w"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	require.ErrorIs(t, h.InternalDrop("w", []string{"f2", "d"}), ErrCycle)
	require.NoError(t, h.Rename("w", "work2"))
	assertConsistent(t, s)
}
