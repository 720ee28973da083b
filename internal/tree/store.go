package tree

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metrics"
)

// Store owns the node arena. It is the only mutation boundary for a tree:
// callers hold a *Store and never see the internal nodes, only copies.
type Store struct {
	mu     sync.Mutex
	nodes  map[string]Node
	root   []string
	strict bool
	logger *zap.Logger

	// dirty collects the parents and folders touched by the current
	// mutation; settle checks only these outside strict mode.
	dirty map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithStrict makes invariant violations panic instead of being repaired.
// Use it in development and tests.
func WithStrict(strict bool) Option {
	return func(s *Store) { s.strict = strict }
}

// WithLogger sets the logger used to report repaired violations.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty tree.
func NewStore(opts ...Option) *Store {
	s := &Store{nodes: make(map[string]Node), dirty: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.L()
	}
	return s
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Get returns a copy of the node with the given id.
func (s *Store) Get(id string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	return n.clone(), nil
}

// Children returns the ordered child ids of a folder. An empty folderID
// addresses the root level.
func (s *Store) Children(folderID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.siblings(folderID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(list), nil
}

// Upsert inserts a node or replaces the caller-owned fields of an existing
// one. A changed ParentID moves the node. Upserting an unchanged node is a
// no-op, so corrective patches can be replayed.
func (s *Store) Upsert(n Node) error {
	if n == nil {
		return errors.New("tree: nil node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.upsert(n)
	if err != nil {
		return err
	}
	if changed {
		s.settle("upsert")
	}
	return nil
}

// Insert adds a node that must not exist yet.
func (s *Store) Insert(n Node) error {
	if n == nil {
		return errors.New("tree: nil node")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.Base().ID]; ok {
		return fmt.Errorf("%w: %q", ErrExists, n.Base().ID)
	}
	if _, err := s.upsert(n); err != nil {
		return err
	}
	s.settle("insert")
	return nil
}

// Remove deletes a node and all of its descendants and returns their ids.
func (s *Store) Remove(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, notFound(id)
	}
	removed := s.remove(id)
	s.settle("remove")
	return removed, nil
}

// Rename changes a node's name. Folder paths cascade to all descendants.
func (s *Store) Rename(id, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}
	if n.Base().Name == name {
		return nil
	}
	s.detach(id)
	n.Base().Name = name
	s.attach(id)
	s.cascade(id)
	s.settle("rename")
	return nil
}

// Reparent moves a node under newParentID at position index among its new
// siblings. The resulting order is made authoritative by renumbering the
// siblings' SortOrder to their positions.
func (s *Store) Reparent(id, newParentID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}
	if err := s.checkParent(newParentID); err != nil {
		return err
	}
	if newParentID != "" && s.isAncestorOrSelf(id, newParentID) {
		return fmt.Errorf("%w: %q into %q", ErrCycle, id, newParentID)
	}

	s.detach(id)
	n.Base().ParentID = newParentID
	list, _ := s.siblings(newParentID)
	index = max(0, min(index, len(list)))
	s.renumber(newParentID, slices.Insert(slices.Clone(list), index, id))
	s.cascade(id)
	s.settle("reparent")
	return nil
}

// Move makes orderedIDs the complete, ordered child list of targetID.
// Ids currently listed elsewhere are detached from their old parent first.
// Every existing child of the target must appear in orderedIDs. All checks
// run before anything changes, so a rejected move leaves the tree untouched.
func (s *Store) Move(targetID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.siblings(targetID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidDrop, id)
		}
		seen[id] = true
		n, ok := s.nodes[id]
		if !ok {
			return notFound(id)
		}
		if _, isFolder := n.(*FolderNode); isFolder && targetID != "" && s.isAncestorOrSelf(id, targetID) {
			return fmt.Errorf("%w: %q into %q", ErrCycle, id, targetID)
		}
	}
	for _, c := range current {
		if !seen[c] {
			return fmt.Errorf("%w: child %q of %q missing from new order", ErrInvalidDrop, c, targetID)
		}
	}

	var moved []string
	for _, id := range orderedIDs {
		b := s.nodes[id].Base()
		if b.ParentID != targetID {
			s.detach(id)
			b.ParentID = targetID
			moved = append(moved, id)
		}
	}
	s.renumber(targetID, slices.Clone(orderedIDs))
	for _, id := range moved {
		s.cascade(id)
	}
	s.settle("move")
	return nil
}

// Walk visits every node depth-first in children order, passing copies.
func (s *Store) Walk(fn func(n Node)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var visit func(ids []string)
	visit = func(ids []string) {
		for _, id := range ids {
			n := s.nodes[id]
			fn(n.clone())
			if f, ok := n.(*FolderNode); ok {
				visit(f.Children)
			}
		}
	}
	visit(s.root)
}

// Snapshot returns copies of all nodes in Walk order.
func (s *Store) Snapshot() []Node {
	var out []Node
	s.Walk(func(n Node) { out = append(out, n) })
	return out
}

// Verify checks every invariant and returns the first violation found.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verify()
}

// Repair rebuilds every children list from ParentID ground truth.
func (s *Store) Repair() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repair()
	clear(s.dirty)
}

// settle runs after every mutation with the lock held. Strict stores verify
// the whole tree; others check what the mutation touched.
func (s *Store) settle(op string) {
	defer clear(s.dirty)
	metrics.RecordTreeMutation(op)
	var err error
	if s.strict {
		err = s.verify()
	} else {
		err = s.verifyTouched()
	}
	if err == nil {
		return
	}
	if s.strict {
		panic(err)
	}
	s.logger.Error("tree invariant violated, rebuilding from parent ids",
		zap.String("op", op), zap.Error(err))
	metrics.RecordTreeRepair()
	s.repair()
}

// Load fills an empty store with nodes given in any order and settles once.
// Nothing is stored if a node is invalid or duplicated, names a parent that
// is not a folder in the set, or sits on a cycle.
func (s *Store) Load(nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.nodes) > 0 {
		return errors.New("tree: load into a non-empty store")
	}

	staged := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n == nil {
			return errors.New("tree: nil node")
		}
		in := n.clone()
		b := in.Base()
		if err := checkNode(b); err != nil {
			return err
		}
		if _, dup := staged[b.ID]; dup {
			return fmt.Errorf("%w: %q", ErrExists, b.ID)
		}
		if f, ok := in.(*FolderNode); ok {
			f.Children = nil
		}
		staged[b.ID] = in
	}
	groups := make(map[string][]string)
	for id, n := range staged {
		parent := n.Base().ParentID
		if parent != "" {
			p, ok := staged[parent]
			if !ok {
				return notFound(parent)
			}
			if p.Kind() != KindFolder {
				return fmt.Errorf("%w: %q", ErrNotFolder, parent)
			}
		}
		groups[parent] = append(groups[parent], id)
	}

	s.nodes = staged
	s.root = SortChildren(groups[""], s.lookup)
	for id, n := range staged {
		if f, ok := n.(*FolderNode); ok {
			f.Children = SortChildren(groups[id], s.lookup)
		}
	}
	reached := 0
	for _, id := range s.root {
		s.cascade(id)
		reached += s.count(id)
	}
	if reached != len(staged) {
		s.nodes = make(map[string]Node)
		s.root = nil
		clear(s.dirty)
		return fmt.Errorf("%w: %d nodes unreachable from the root level", ErrCycle, len(staged)-reached)
	}
	clear(s.dirty)
	s.settle("load")
	return nil
}

func (s *Store) count(id string) int {
	n := 1
	if f, ok := s.nodes[id].(*FolderNode); ok {
		for _, c := range f.Children {
			n += s.count(c)
		}
	}
	return n
}

func checkNode(b *NodeBase) error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidName)
	}
	if !validName(b.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, b.Name)
	}
	return nil
}

func (s *Store) upsert(n Node) (bool, error) {
	in := n.clone()
	b := in.Base()
	if err := checkNode(b); err != nil {
		return false, err
	}
	if err := s.checkParent(b.ParentID); err != nil {
		return false, err
	}
	existing, exists := s.nodes[b.ID]
	if exists && existing.Kind() != in.Kind() {
		return false, fmt.Errorf("%w: %q", ErrKindChange, b.ID)
	}
	if b.ParentID != "" && s.isAncestorOrSelf(b.ID, b.ParentID) {
		return false, fmt.Errorf("%w: %q into %q", ErrCycle, b.ID, b.ParentID)
	}
	if exists && sameContent(existing, in) {
		return false, nil
	}

	if f, ok := in.(*FolderNode); ok {
		f.Children = nil
		if exists {
			f.Children = existing.(*FolderNode).Children
		}
	}
	if exists {
		s.detach(b.ID)
	}
	s.nodes[b.ID] = in
	s.attach(b.ID)
	s.cascade(b.ID)
	return true, nil
}

func (s *Store) remove(id string) []string {
	s.detach(id)
	removed := s.collect(id, nil)
	for _, r := range removed {
		delete(s.nodes, r)
	}
	return removed
}

func (s *Store) collect(id string, acc []string) []string {
	acc = append(acc, id)
	if f, ok := s.nodes[id].(*FolderNode); ok {
		for _, c := range f.Children {
			acc = s.collect(c, acc)
		}
	}
	return acc
}

func (s *Store) lookup(id string) Node {
	return s.nodes[id]
}

// siblings returns the child list of parentID ("" is the root level).
func (s *Store) siblings(parentID string) ([]string, error) {
	if parentID == "" {
		return s.root, nil
	}
	n, ok := s.nodes[parentID]
	if !ok {
		return nil, notFound(parentID)
	}
	f, ok := n.(*FolderNode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFolder, parentID)
	}
	return f.Children, nil
}

func (s *Store) setSiblings(parentID string, ids []string) {
	s.dirty[parentID] = struct{}{}
	if parentID == "" {
		s.root = ids
		return
	}
	s.nodes[parentID].(*FolderNode).Children = ids
}

func (s *Store) checkParent(parentID string) error {
	_, err := s.siblings(parentID)
	return err
}

func (s *Store) detach(id string) {
	parent := s.nodes[id].Base().ParentID
	list, err := s.siblings(parent)
	if err != nil {
		return
	}
	s.setSiblings(parent, slices.DeleteFunc(slices.Clone(list), func(c string) bool { return c == id }))
}

func (s *Store) attach(id string) {
	parent := s.nodes[id].Base().ParentID
	list, _ := s.siblings(parent)
	s.setSiblings(parent, InsertSorted(list, id, s.lookup))
}

// renumber installs ordered as the child list of parentID and assigns each
// child its position as SortOrder.
func (s *Store) renumber(parentID string, ordered []string) {
	for i, id := range ordered {
		s.nodes[id].Base().SortOrder = i
	}
	s.setSiblings(parentID, ordered)
}

// isAncestorOrSelf reports whether ancestorID is id or one of its ancestors.
func (s *Store) isAncestorOrSelf(ancestorID, id string) bool {
	for steps := 0; id != "" && steps <= len(s.nodes); steps++ {
		if id == ancestorID {
			return true
		}
		n, ok := s.nodes[id]
		if !ok {
			return false
		}
		id = n.Base().ParentID
	}
	return false
}

// cascade recomputes Path and Depth of folder id and every folder below it.
func (s *Store) cascade(id string) {
	f, ok := s.nodes[id].(*FolderNode)
	if !ok {
		return
	}
	parentPath, depth := "", 0
	if f.ParentID != "" {
		p := s.nodes[f.ParentID].(*FolderNode)
		parentPath, depth = p.Path, p.Depth+1
	}
	f.Path = ChildPath(parentPath, f.Name)
	f.Depth = depth
	s.dirty[id] = struct{}{}
	for _, c := range f.Children {
		s.cascade(c)
	}
}
