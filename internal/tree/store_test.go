package tree

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, nodes ...Node) *Store {
	t.Helper()
	s := NewStore(WithStrict(true), WithLogger(zap.NewNop()))
	for _, n := range nodes {
		require.NoError(t, s.Upsert(n))
	}
	return s
}

// sampleTree builds:
//
//	/docs (d)
//	  /docs/work (w)
//	    plan.txt (f2)
//	  a.txt (f1)
//	/media (m)
//	z.txt (f3)
func sampleTree(t *testing.T) *Store {
	return newTestStore(t,
		folder("d", "", "docs", 0),
		folder("m", "", "media", 1),
		folder("w", "d", "work", 0),
		file("f1", "d", "a.txt", 0),
		file("f2", "w", "plan.txt", 0),
		file("f3", "", "z.txt", 0),
	)
}

// assertConsistent checks that every folder's children are exactly the nodes
// whose ParentID points at it.
func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Verify())

	want := map[string][]string{}
	var folders []string
	for _, n := range s.Snapshot() {
		p := n.Base().ParentID
		want[p] = append(want[p], n.Base().ID)
		if n.Kind() == KindFolder {
			folders = append(folders, n.Base().ID)
		}
	}
	for _, f := range append(folders, "") {
		got, err := s.Children(f)
		require.NoError(t, err)
		got = slices.Clone(got)
		sort.Strings(got)
		w := want[f]
		sort.Strings(w)
		if diff := cmp.Diff(w, got, cmpEmpty); diff != "" {
			t.Fatalf("children of %q (-want +got):\n%s", f, diff)
		}
	}
}

var cmpEmpty = cmp.Comparer(func(a, b []string) bool {
	return len(a) == 0 && len(b) == 0 || slices.Equal(a, b)
})

func mustFolder(t *testing.T, s *Store, id string) *FolderNode {
	t.Helper()
	n, err := s.Get(id)
	require.NoError(t, err)
	f, ok := n.(*FolderNode)
	require.True(t, ok, "%q is not a folder", id)
	return f
}

func TestUpsertDerivesPathAndDepth(t *testing.T) {
	s := sampleTree(t)

	tests := []struct {
		id    string
		path  string
		depth int
	}{
		{"d", "/docs", 0},
		{"m", "/media", 0},
		{"w", "/docs/work", 1},
	}
	for _, tt := range tests {
		f := mustFolder(t, s, tt.id)
		if f.Path != tt.path || f.Depth != tt.depth {
			t.Errorf("%s: path=%q depth=%d, want %q %d", tt.id, f.Path, f.Depth, tt.path, tt.depth)
		}
	}

	root, err := s.Children("")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"d", "f3", "m"}, root); diff != "" {
		t.Errorf("root order (-want +got):\n%s", diff)
	}
	assertConsistent(t, s)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := sampleTree(t)
	before := s.Snapshot()

	n, err := s.Get("f1")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(n))
	require.NoError(t, s.Upsert(n))

	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("tree changed (-before +after):\n%s", diff)
	}
}

func TestUpsertChangedParentMoves(t *testing.T) {
	s := sampleTree(t)
	require.NoError(t, s.Upsert(folder("d", "m", "docs", 0)))

	if f := mustFolder(t, s, "w"); f.Path != "/media/docs/work" || f.Depth != 2 {
		t.Errorf("work: path=%q depth=%d", f.Path, f.Depth)
	}
	assertConsistent(t, s)
}

func TestUpsertRejects(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want error
	}{
		{"cycle", folder("d", "w", "docs", 0), ErrCycle},
		{"missing parent", file("x", "nope", "x", 0), ErrNotFound},
		{"file parent", file("x", "f1", "x", 0), ErrNotFolder},
		{"kind change", file("d", "", "docs", 0), ErrKindChange},
		{"slash in name", file("x", "", "a/b", 0), ErrInvalidName},
		{"empty id", file("", "", "x", 0), ErrInvalidName},
	}
	for _, tt := range tests {
		s := sampleTree(t)
		before := s.Snapshot()
		err := s.Upsert(tt.node)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
			t.Errorf("%s: rejected upsert changed the tree:\n%s", tt.name, diff)
		}
	}
}

func TestRenameCascadesPaths(t *testing.T) {
	s := sampleTree(t)
	require.NoError(t, s.Rename("d", "archive"))

	if f := mustFolder(t, s, "w"); f.Path != "/archive/work" {
		t.Errorf("work path = %q, want /archive/work", f.Path)
	}
	root, _ := s.Children("")
	if diff := cmp.Diff([]string{"d", "f3", "m"}, root); diff != "" {
		t.Errorf("root order (-want +got):\n%s", diff)
	}

	require.ErrorIs(t, s.Rename("d", ""), ErrInvalidName)
	require.ErrorIs(t, s.Rename("d", "a/b"), ErrInvalidName)
	require.ErrorIs(t, s.Rename("nope", "x"), ErrNotFound)
	assertConsistent(t, s)
}

func TestRenameResorts(t *testing.T) {
	s := newTestStore(t, file("a", "", "a", 0), file("b", "", "b", 0))
	require.NoError(t, s.Rename("a", "c"))
	root, _ := s.Children("")
	if diff := cmp.Diff([]string{"b", "a"}, root); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRemoveCascades(t *testing.T) {
	s := sampleTree(t)
	removed, err := s.Remove("d")
	require.NoError(t, err)

	sort.Strings(removed)
	if diff := cmp.Diff([]string{"d", "f1", "f2", "w"}, removed); diff != "" {
		t.Errorf("removed (-want +got):\n%s", diff)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	_, err = s.Get("f2")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "f2", nf.ID)

	_, err = s.Remove("d")
	require.ErrorIs(t, err, ErrNotFound)
	assertConsistent(t, s)
}

func TestReparentPlacesAtIndex(t *testing.T) {
	s := sampleTree(t)
	require.NoError(t, s.Reparent("f3", "d", 0))

	children, _ := s.Children("d")
	if diff := cmp.Diff([]string{"f3", "w", "f1"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	for i, id := range children {
		n, _ := s.Get(id)
		if n.Base().SortOrder != i {
			t.Errorf("%s: SortOrder = %d, want %d", id, n.Base().SortOrder, i)
		}
	}

	require.NoError(t, s.Reparent("w", "", 99))
	root, _ := s.Children("")
	if root[len(root)-1] != "w" {
		t.Errorf("index past the end should append, got %v", root)
	}
	if f := mustFolder(t, s, "w"); f.Path != "/work" || f.Depth != 0 {
		t.Errorf("work: path=%q depth=%d", f.Path, f.Depth)
	}
	assertConsistent(t, s)
}

func TestReparentRejectsCycle(t *testing.T) {
	s := sampleTree(t)
	before := s.Snapshot()

	require.ErrorIs(t, s.Reparent("d", "w", 0), ErrCycle)
	require.ErrorIs(t, s.Reparent("d", "d", 0), ErrCycle)
	require.ErrorIs(t, s.Reparent("d", "f1", 0), ErrNotFolder)

	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("rejected moves changed the tree:\n%s", diff)
	}
}

func TestMoveMakesOrderAuthoritative(t *testing.T) {
	s := sampleTree(t)
	require.NoError(t, s.Move("m", []string{"f3", "d"}))

	children, _ := s.Children("m")
	if diff := cmp.Diff([]string{"f3", "d"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	root, _ := s.Children("")
	if diff := cmp.Diff([]string{"m"}, root); diff != "" {
		t.Errorf("root (-want +got):\n%s", diff)
	}
	if f := mustFolder(t, s, "w"); f.Path != "/media/docs/work" || f.Depth != 2 {
		t.Errorf("work: path=%q depth=%d", f.Path, f.Depth)
	}
	assertConsistent(t, s)
}

func TestMoveValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		order  []string
		want   error
	}{
		{"into own descendant", "w", []string{"f2", "d"}, ErrCycle},
		{"into itself", "d", []string{"d", "w", "f1"}, ErrCycle},
		{"drops existing child", "d", []string{"f3", "w"}, ErrInvalidDrop},
		{"duplicate id", "m", []string{"f3", "f3"}, ErrInvalidDrop},
		{"unknown id", "m", []string{"nope"}, ErrNotFound},
		{"unknown target", "nope", []string{"f3"}, ErrNotFound},
		{"file target", "f1", []string{"f3"}, ErrNotFolder},
	}
	for _, tt := range tests {
		s := sampleTree(t)
		before := s.Snapshot()
		if err := s.Move(tt.target, tt.order); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
			t.Errorf("%s: rejected move changed the tree:\n%s", tt.name, diff)
		}
	}
}

func TestRandomMutationsPreserveInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 8))
	s := newTestStore(t)
	var all []string
	pick := func() string {
		if len(all) == 0 || r.IntN(5) == 0 {
			return ""
		}
		return all[r.IntN(len(all))]
	}

	for i := 0; i < 500; i++ {
		switch r.IntN(6) {
		case 0, 1:
			id := fmt.Sprintf("n%d", i)
			var n Node = file(id, pick(), fmt.Sprintf("f%d", r.IntN(10)), r.IntN(3))
			if r.IntN(2) == 0 {
				n = folder(id, pick(), fmt.Sprintf("d%d", r.IntN(10)), r.IntN(3))
			}
			if s.Upsert(n) == nil {
				all = append(all, id)
			}
		case 2:
			_ = s.Rename(pick(), fmt.Sprintf("r%d", r.IntN(10)))
		case 3:
			_ = s.Reparent(pick(), pick(), r.IntN(4))
		case 4:
			target := pick()
			current, err := s.Children(target)
			if err != nil {
				continue
			}
			order := append(slices.Clone(current), pick())
			r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
			_ = s.Move(target, order)
		case 5:
			if r.IntN(4) == 0 {
				if removed, err := s.Remove(pick()); err == nil {
					all = slices.DeleteFunc(all, func(id string) bool { return slices.Contains(removed, id) })
				}
			}
		}
	}
	assertConsistent(t, s)
}

func TestApplyPatchIsIdempotent(t *testing.T) {
	s := sampleTree(t)
	p := Patch{
		// Child listed before its parent.
		Upserts: []Node{
			file("f4", "n1", "new.txt", 0),
			folder("n1", "m", "incoming", 0),
			file("f1", "d", "renamed.txt", 0),
		},
		Removes: []string{"f3", "never-existed"},
	}

	require.NoError(t, s.ApplyPatch(p))
	once := s.Snapshot()
	require.NoError(t, s.ApplyPatch(p))
	if diff := cmp.Diff(once, s.Snapshot()); diff != "" {
		t.Errorf("second patch changed the tree (-once +twice):\n%s", diff)
	}

	if f := mustFolder(t, s, "n1"); f.Path != "/media/incoming" {
		t.Errorf("incoming path = %q", f.Path)
	}
	_, err := s.Get("f3")
	require.ErrorIs(t, err, ErrNotFound)
	assertConsistent(t, s)
}

func TestApplyPatchUnknownParent(t *testing.T) {
	s := sampleTree(t)
	err := s.ApplyPatch(Patch{Upserts: []Node{file("x", "ghost", "x", 0)}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPatchRejectsWithoutChanges(t *testing.T) {
	tests := []struct {
		name string
		p    Patch
		want error
	}{
		{"bad name", Patch{Upserts: []Node{folder("a", "", "a", 0), file("x", "a", "bad/name", 0)}}, ErrInvalidName},
		{"kind change", Patch{Removes: []string{"f3"}, Upserts: []Node{file("d", "", "docs", 0)}}, ErrKindChange},
		{"parent removed", Patch{Removes: []string{"m"}, Upserts: []Node{file("x", "m", "x", 0)}}, ErrNotFound},
		{"parent is file", Patch{Upserts: []Node{file("x", "f3", "x", 0)}}, ErrNotFolder},
		{"cycle", Patch{Upserts: []Node{folder("n", "", "n", 0), folder("d", "w", "docs", 0)}}, ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleTree(t)
			before := s.Snapshot()
			require.ErrorIs(t, s.ApplyPatch(tt.p), tt.want)
			if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
				t.Errorf("rejected patch changed the tree (-before +after):\n%s", diff)
			}
		})
	}
}

func TestApplyPatchSwapsParents(t *testing.T) {
	s := newTestStore(t, folder("a", "", "a", 0), folder("b", "a", "b", 0))

	// a moves under b before b leaves a.
	require.NoError(t, s.ApplyPatch(Patch{Upserts: []Node{
		folder("a", "b", "a", 0),
		folder("b", "", "b", 0),
	}}))
	if f := mustFolder(t, s, "a"); f.Path != "/b/a" {
		t.Errorf("a path = %q", f.Path)
	}
	assertConsistent(t, s)
}

func TestSettleRepairsInNonStrictMode(t *testing.T) {
	s := NewStore(WithLogger(zap.NewNop()))
	for _, n := range []Node{
		folder("a", "", "a", 0),
		folder("b", "", "b", 1),
		file("f", "a", "f.txt", 0),
	} {
		require.NoError(t, s.Upsert(n))
	}

	// Corrupt the arena behind the store's back: f claims b as parent but is
	// still listed under a.
	s.mu.Lock()
	s.nodes["f"].Base().ParentID = "b"
	s.mu.Unlock()
	require.ErrorIs(t, s.Verify(), ErrInvariant)

	// A mutation that touches a's child list notices and rebuilds.
	require.NoError(t, s.Upsert(file("g", "a", "g.txt", 0)))
	require.NoError(t, s.Verify())
	children, _ := s.Children("b")
	if diff := cmp.Diff([]string{"f"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	children, _ = s.Children("a")
	if diff := cmp.Diff([]string{"g"}, children); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSettleChecksOnlyTouchedParents(t *testing.T) {
	s := NewStore(WithLogger(zap.NewNop()))
	require.NoError(t, s.Upsert(folder("a", "", "a", 0)))
	require.NoError(t, s.Upsert(folder("b", "", "b", 1)))
	require.NoError(t, s.Upsert(file("f", "a", "f.txt", 0)))

	s.mu.Lock()
	s.nodes["f"].Base().ParentID = "b"
	s.mu.Unlock()

	// b's list is touched, a's is not; the stale entry under a survives
	// until a full Verify.
	require.NoError(t, s.Upsert(file("g", "b", "g.txt", 0)))
	require.ErrorIs(t, s.Verify(), ErrInvariant)
}

func TestLoadBuildsTreeInAnyOrder(t *testing.T) {
	want := sampleTree(t).Snapshot()

	s := NewStore(WithStrict(true), WithLogger(zap.NewNop()))
	require.NoError(t, s.Load([]Node{
		file("f2", "w", "plan.txt", 0),
		file("f3", "", "z.txt", 0),
		folder("w", "d", "work", 0),
		file("f1", "d", "a.txt", 0),
		folder("m", "", "media", 1),
		folder("d", "", "docs", 0),
	}))
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("(-upserted +loaded):\n%s", diff)
	}
	assertConsistent(t, s)

	require.Error(t, s.Load([]Node{file("x", "", "x", 0)}), "store is not empty")
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		want  error
	}{
		{"bad name", []Node{file("x", "", "a/b", 0)}, ErrInvalidName},
		{"duplicate", []Node{file("x", "", "a", 0), file("x", "", "b", 0)}, ErrExists},
		{"missing parent", []Node{file("x", "ghost", "a", 0)}, ErrNotFound},
		{"file parent", []Node{file("p", "", "p", 0), file("x", "p", "a", 0)}, ErrNotFolder},
		{"cycle", []Node{folder("a", "b", "a", 0), folder("b", "a", "b", 0), file("r", "", "r", 0)}, ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(WithStrict(true), WithLogger(zap.NewNop()))
			require.ErrorIs(t, s.Load(tt.nodes), tt.want)
			require.Equal(t, 0, s.Len())
		})
	}
}

func TestLoadLargeFlatTree(t *testing.T) {
	const n = 50000
	nodes := make([]Node, 0, n)
	for i := range n {
		nodes = append(nodes, file(fmt.Sprintf("f%05d", i), "", fmt.Sprintf("file-%05d.txt", n-i), 0))
	}
	s := NewStore(WithLogger(zap.NewNop()))
	require.NoError(t, s.Load(nodes))
	require.Equal(t, n, s.Len())

	root, err := s.Children("")
	require.NoError(t, err)
	require.Equal(t, "f49999", root[0])
	require.NoError(t, s.Verify())
}

func TestRepairBreaksCycles(t *testing.T) {
	s := NewStore(WithLogger(zap.NewNop()))
	require.NoError(t, s.Upsert(folder("a", "", "a", 0)))
	require.NoError(t, s.Upsert(folder("b", "a", "b", 0)))

	s.mu.Lock()
	s.nodes["a"].Base().ParentID = "b"
	s.mu.Unlock()

	var iv *InvariantViolation
	require.ErrorAs(t, s.Verify(), &iv)

	s.Repair()
	require.NoError(t, s.Verify())
	root, _ := s.Children("")
	if diff := cmp.Diff([]string{"a"}, root); diff != "" {
		t.Errorf("root (-want +got):\n%s", diff)
	}
	if f := mustFolder(t, s, "b"); f.Path != "/a/b" {
		t.Errorf("b path = %q", f.Path)
	}
}

func TestStrictModePanics(t *testing.T) {
	s := newTestStore(t, folder("a", "", "a", 0), file("f", "a", "f", 0))
	s.mu.Lock()
	s.nodes["f"].Base().ParentID = ""
	s.mu.Unlock()

	require.Panics(t, func() { _ = s.Upsert(file("g", "", "g", 0)) })
}

func TestGetReturnsCopy(t *testing.T) {
	s := sampleTree(t)
	n, err := s.Get("d")
	require.NoError(t, err)
	n.Base().Name = "mutated"
	n.(*FolderNode).Children[0] = "bogus"
	assertConsistent(t, s)
	if f := mustFolder(t, s, "d"); f.Name != "docs" {
		t.Errorf("store node mutated through copy: %q", f.Name)
	}
}
