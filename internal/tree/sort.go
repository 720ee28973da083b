package tree

import (
	"cmp"
	"slices"
	"strings"
)

// Lookup resolves an id to its node. It must return a non-nil node for every
// id handed to SortChildren or InsertSorted.
type Lookup func(id string) Node

// Compare orders siblings: ascending SortOrder, then folders before files,
// then case-sensitive name, then id. The id tie-break makes the order strict.
func Compare(a, b Node) int {
	ab, bb := a.Base(), b.Base()
	if c := cmp.Compare(ab.SortOrder, bb.SortOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(kindRank(a), kindRank(b)); c != 0 {
		return c
	}
	if c := strings.Compare(ab.Name, bb.Name); c != 0 {
		return c
	}
	return strings.Compare(ab.ID, bb.ID)
}

func kindRank(n Node) int {
	switch n.(type) {
	case *FolderNode:
		return 0
	case *FileNode:
		return 1
	default:
		panic(unknownKind(n))
	}
}

// SortChildren returns ids in Compare order. The input is not modified.
func SortChildren(ids []string, lookup Lookup) []string {
	out := slices.Clone(ids)
	slices.SortStableFunc(out, func(a, b string) int {
		return Compare(lookup(a), lookup(b))
	})
	return out
}

// InsertSorted returns ids with newID placed where a full resort would put
// it, in a single linear pass. The ids already present keep their relative
// order even if they are not themselves sorted. An existing occurrence of
// newID is dropped first.
func InsertSorted(ids []string, newID string, lookup Lookup) []string {
	n := lookup(newID)
	out := make([]string, 0, len(ids)+1)
	inserted := false
	for _, id := range ids {
		if id == newID {
			continue
		}
		if !inserted && Compare(n, lookup(id)) < 0 {
			out = append(out, newID)
			inserted = true
		}
		out = append(out, id)
	}
	if !inserted {
		out = append(out, newID)
	}
	return out
}
