package tree

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func file(id, parent, name string, order int) *FileNode {
	return &FileNode{
		NodeBase:         NodeBase{ID: id, Name: name, ParentID: parent, SortOrder: order},
		ProcessingStatus: StatusCompleted,
	}
}

func folder(id, parent, name string, order int) *FolderNode {
	return &FolderNode{NodeBase: NodeBase{ID: id, Name: name, ParentID: parent, SortOrder: order}}
}

func lookupIn(nodes ...Node) Lookup {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.Base().ID] = n
	}
	return func(id string) Node { return m[id] }
}

func randomNodes(r *rand.Rand, n int) []Node {
	names := []string{"a", "B", "b", "report.pdf", "Zeta", "alpha"}
	out := make([]Node, n)
	for i := range out {
		id := fmt.Sprintf("n%03d", i)
		name := names[r.IntN(len(names))]
		order := r.IntN(4) - 1
		if r.IntN(2) == 0 {
			out[i] = folder(id, "", name, order)
		} else {
			out[i] = file(id, "", name, order)
		}
	}
	return out
}

func ids(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Base().ID
	}
	return out
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Node
		want int
	}{
		{"sort order first", file("1", "", "z", -1), folder("2", "", "a", 0), -1},
		{"folders before files", file("1", "", "a", 0), folder("2", "", "z", 0), 1},
		{"name is case sensitive", file("1", "", "B", 0), file("2", "", "a", 0), -1},
		{"id breaks ties", file("2", "", "a", 0), file("1", "", "a", 0), 1},
		{"equal to itself", folder("1", "", "a", 0), folder("1", "", "a", 0), 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Compare = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSortChildrenIdempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 50; round++ {
		nodes := randomNodes(r, 1+r.IntN(20))
		lookup := lookupIn(nodes...)
		once := SortChildren(ids(nodes), lookup)
		twice := SortChildren(once, lookup)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Fatalf("round %d: second sort changed order (-once +twice):\n%s", round, diff)
		}
	}
}

func TestSortChildrenDoesNotModifyInput(t *testing.T) {
	nodes := []Node{file("b", "", "b", 0), file("a", "", "a", 0)}
	in := ids(nodes)
	SortChildren(in, lookupIn(nodes...))
	if in[0] != "b" || in[1] != "a" {
		t.Errorf("input modified: %v", in)
	}
}

func TestInsertSortedStable(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for round := 0; round < 50; round++ {
		nodes := randomNodes(r, 2+r.IntN(20))
		lookup := lookupIn(nodes...)
		existing := ids(nodes[1:])
		r.Shuffle(len(existing), func(i, j int) { existing[i], existing[j] = existing[j], existing[i] })

		got := InsertSorted(existing, nodes[0].Base().ID, lookup)
		if len(got) != len(existing)+1 {
			t.Fatalf("round %d: len = %d, want %d", round, len(got), len(existing)+1)
		}
		without := slices.DeleteFunc(slices.Clone(got), func(id string) bool { return id == nodes[0].Base().ID })
		if diff := cmp.Diff(existing, without); diff != "" {
			t.Fatalf("round %d: existing ids reordered (-want +got):\n%s", round, diff)
		}
	}
}

func TestInsertSortedMatchesFullSort(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for round := 0; round < 50; round++ {
		nodes := randomNodes(r, 2+r.IntN(20))
		lookup := lookupIn(nodes...)
		sorted := SortChildren(ids(nodes[1:]), lookup)

		got := InsertSorted(sorted, nodes[0].Base().ID, lookup)
		want := SortChildren(ids(nodes), lookup)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d: (-want +got):\n%s", round, diff)
		}
	}
}

func TestInsertSortedReplacesExisting(t *testing.T) {
	a, b, c := file("a", "", "a", 0), file("b", "", "b", 0), file("c", "", "c", 0)
	lookup := lookupIn(a, b, c)
	b.SortOrder = -1

	got := InsertSorted([]string{"a", "b", "c"}, "b", lookup)
	if diff := cmp.Diff([]string{"b", "a", "c"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestKindRankPanicsOnUnknownNode(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown node type")
		}
	}()
	kindRank(fakeNode{})
}

type fakeNode struct{ b NodeBase }

func (f fakeNode) Kind() Kind { return "fake" }

func (f fakeNode) Base() *NodeBase { return &f.b }

func (f fakeNode) clone() Node { return f }
