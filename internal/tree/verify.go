package tree

import (
	"fmt"
	"maps"
	"slices"
)

func (s *Store) verify() error {
	owner := make(map[string]string, len(s.nodes))
	check := func(parentID string, children []string) error {
		return s.checkChildren(parentID, children, owner)
	}

	if err := check("", s.root); err != nil {
		return err
	}
	for id, n := range s.nodes {
		if f, ok := n.(*FolderNode); ok {
			if err := check(id, f.Children); err != nil {
				return err
			}
		}
	}
	for id, n := range s.nodes {
		if _, ok := owner[id]; !ok {
			return &InvariantViolation{1, id, fmt.Sprintf("not listed by parent %q", n.Base().ParentID)}
		}
	}

	// Every node has exactly one listing parent that matches its ParentID,
	// so anything not reachable from the root level sits on a cycle.
	visited := 0
	var walk func(id, parentPath string, depth int) error
	walk = func(id, parentPath string, depth int) error {
		visited++
		f, ok := s.nodes[id].(*FolderNode)
		if !ok {
			return nil
		}
		if want := ChildPath(parentPath, f.Name); f.Path != want || f.Depth != depth {
			return &InvariantViolation{4, id, fmt.Sprintf("path %q depth %d, want %q depth %d", f.Path, f.Depth, want, depth)}
		}
		for _, c := range f.Children {
			if err := walk(c, f.Path, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range s.root {
		if err := walk(id, "", 0); err != nil {
			return err
		}
	}
	if visited != len(s.nodes) {
		return &InvariantViolation{2, "", fmt.Sprintf("%d nodes unreachable from the root level", len(s.nodes)-visited)}
	}
	return nil
}

// checkChildren verifies one child list. owner records which parent listed
// each id, so an id listed twice is caught across calls sharing the map.
func (s *Store) checkChildren(parentID string, children []string, owner map[string]string) error {
	for i, c := range children {
		n, ok := s.nodes[c]
		if !ok {
			return &InvariantViolation{1, c, fmt.Sprintf("listed by %q but does not exist", parentID)}
		}
		if prev, dup := owner[c]; dup {
			return &InvariantViolation{1, c, fmt.Sprintf("listed by both %q and %q", prev, parentID)}
		}
		owner[c] = parentID
		if n.Base().ParentID != parentID {
			return &InvariantViolation{1, c, fmt.Sprintf("parentId is %q but listed by %q", n.Base().ParentID, parentID)}
		}
		if i > 0 && Compare(s.nodes[children[i-1]], n) >= 0 {
			return &InvariantViolation{3, parentID, fmt.Sprintf("children out of order at %q", c)}
		}
	}
	return nil
}

// verifyTouched checks the child lists and folder paths recorded in dirty.
// Ids removed by the mutation are skipped.
func (s *Store) verifyTouched() error {
	for _, id := range slices.Sorted(maps.Keys(s.dirty)) {
		children, err := s.siblings(id)
		if err != nil {
			continue
		}
		if err := s.checkChildren(id, children, make(map[string]string, len(children))); err != nil {
			return err
		}
		f, ok := s.nodes[id].(*FolderNode)
		if !ok {
			continue
		}
		parentPath, depth := "", 0
		if f.ParentID != "" {
			p, ok := s.nodes[f.ParentID].(*FolderNode)
			if !ok {
				return &InvariantViolation{1, id, fmt.Sprintf("parent %q is not a folder", f.ParentID)}
			}
			parentPath, depth = p.Path, p.Depth+1
		}
		if want := ChildPath(parentPath, f.Name); f.Path != want || f.Depth != depth {
			return &InvariantViolation{4, id, fmt.Sprintf("path %q depth %d, want %q depth %d", f.Path, f.Depth, want, depth)}
		}
	}
	return nil
}

// repair treats ParentID as ground truth: dangling parents and cycle members
// are lifted to the root level, then every children list is rebuilt, sorted,
// and paths are recomputed.
func (s *Store) repair() {
	for _, n := range s.nodes {
		b := n.Base()
		if b.ParentID == "" {
			continue
		}
		if _, ok := s.nodes[b.ParentID].(*FolderNode); !ok {
			b.ParentID = ""
		}
	}
	// Sorted so the same corrupt state always repairs to the same tree.
	for _, id := range slices.Sorted(maps.Keys(s.nodes)) {
		n := s.nodes[id]
		cur := n.Base().ParentID
		for steps := 0; cur != "" && steps <= len(s.nodes); steps++ {
			if cur == id {
				n.Base().ParentID = ""
				break
			}
			cur = s.nodes[cur].Base().ParentID
		}
	}

	groups := make(map[string][]string)
	for id, n := range s.nodes {
		p := n.Base().ParentID
		groups[p] = append(groups[p], id)
	}
	s.root = SortChildren(groups[""], s.lookup)
	for id, n := range s.nodes {
		if f, ok := n.(*FolderNode); ok {
			f.Children = SortChildren(groups[id], s.lookup)
		}
	}
	for _, id := range s.root {
		s.cascade(id)
	}
}
