package tree

import (
	"errors"
	"fmt"
)

// Patch is a corrective change set produced when the server disagrees with
// an optimistic local mutation. Applying the same patch twice is a no-op.
type Patch struct {
	Upserts []Node
	Removes []string
}

// ApplyPatch applies removals, then upserts. Upserts may arrive in any order;
// a node is applied once its parent exists. The patch is checked against the
// tree it would produce first, and a rejected patch changes nothing.
func (s *Store) ApplyPatch(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validatePatch(p); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}

	changed := false
	defer func() {
		if changed {
			s.settle("patch")
		}
	}()

	for _, id := range p.Removes {
		if _, ok := s.nodes[id]; !ok {
			continue
		}
		s.remove(id)
		changed = true
	}

	pending := p.Upserts
	for len(pending) > 0 {
		var deferred []Node
		for _, n := range pending {
			if n == nil {
				continue
			}
			if parent := n.Base().ParentID; parent != "" {
				if _, ok := s.nodes[parent]; !ok {
					deferred = append(deferred, n)
					continue
				}
			}
			c, err := s.upsert(n)
			if errors.Is(err, ErrCycle) {
				// A folder moving under a node that has not moved yet.
				deferred = append(deferred, n)
				continue
			}
			if err != nil {
				return fmt.Errorf("apply patch: %w", err)
			}
			changed = changed || c
		}
		if len(deferred) == len(pending) {
			return fmt.Errorf("apply patch: %w", notFound(deferred[0].Base().ParentID))
		}
		pending = deferred
	}
	return nil
}

// validatePatch checks names, kinds, parents and acyclicity of every upsert
// against the state left after the patch's removals and upserts.
func (s *Store) validatePatch(p Patch) error {
	removed := make(map[string]bool)
	for _, id := range p.Removes {
		if _, ok := s.nodes[id]; ok {
			for _, r := range s.collect(id, nil) {
				removed[r] = true
			}
		}
	}

	incoming := make(map[string]Node, len(p.Upserts))
	for _, n := range p.Upserts {
		if n == nil {
			continue
		}
		b := n.Base()
		if err := checkNode(b); err != nil {
			return err
		}
		if existing, ok := s.nodes[b.ID]; ok && !removed[b.ID] && existing.Kind() != n.Kind() {
			return fmt.Errorf("%w: %q", ErrKindChange, b.ID)
		}
		if prev, ok := incoming[b.ID]; ok && prev.Kind() != n.Kind() {
			return fmt.Errorf("%w: %q", ErrKindChange, b.ID)
		}
		incoming[b.ID] = n
	}

	lookup := func(id string) (Node, bool) {
		if n, ok := incoming[id]; ok {
			return n, true
		}
		n, ok := s.nodes[id]
		return n, ok && !removed[id]
	}
	limit := len(s.nodes) + len(incoming)
	for _, n := range p.Upserts {
		if n == nil {
			continue
		}
		id, parent := n.Base().ID, n.Base().ParentID
		if parent == "" {
			continue
		}
		pn, ok := lookup(parent)
		if !ok {
			return notFound(parent)
		}
		if pn.Kind() != KindFolder {
			return fmt.Errorf("%w: %q", ErrNotFolder, parent)
		}
		for cur, steps := parent, 0; cur != ""; steps++ {
			if cur == id || steps > limit {
				return fmt.Errorf("%w: %q into %q", ErrCycle, id, parent)
			}
			next, ok := lookup(cur)
			if !ok {
				break
			}
			cur = next.Base().ParentID
		}
	}
	return nil
}
