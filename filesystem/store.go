package filesystem

import (
	"slices"
	"syscall"
)

// Store is the path-keyed table of every node in the filesystem.
// It performs no locking and checks no invariants on Put; callers
// (the handlers in [FileSystem]) validate parents and names first.
type Store struct {
	nodes map[string]Node
}

// NewStore returns a store holding only the root directory.
func NewStore() *Store {
	return &Store{nodes: map[string]Node{RootPath: NewDir("")}}
}

// Get returns the node stored at p.
func (s *Store) Get(p string) (Node, bool) {
	n, ok := s.nodes[p]
	return n, ok
}

// Put inserts n at p, replacing anything already there.
func (s *Store) Put(p string, n Node) {
	s.nodes[p] = n
}

// Delete drops p from the table without touching its parent's listing.
func (s *Store) Delete(p string) {
	if p == RootPath {
		return
	}
	delete(s.nodes, p)
}

// Link appends name to the child list of the directory at parent.
func (s *Store) Link(parent, name string) error {
	d, err := s.dir(parent)
	if err != nil {
		return err
	}
	d.Children = append(d.Children, name)
	return nil
}

// Unlink removes the last occurrence of name from the directory at parent.
// It only exists to undo a Link.
func (s *Store) Unlink(parent, name string) {
	d, err := s.dir(parent)
	if err != nil {
		return
	}
	for i := len(d.Children) - 1; i >= 0; i-- {
		if d.Children[i] == name {
			d.Children = slices.Delete(d.Children, i, i+1)
			return
		}
	}
}

func (s *Store) dir(p string) (*Dir, error) {
	n, ok := s.nodes[p]
	if !ok {
		return nil, syscall.ENOENT
	}
	d, ok := n.(*Dir)
	if !ok {
		return nil, syscall.ENOTDIR
	}
	return d, nil
}

// Len returns the number of nodes, root included.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Paths returns every key in lexical order.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Counts returns the number of nodes of each kind.
func (s *Store) Counts() map[NodeKind]int {
	counts := map[NodeKind]int{KindDir: 0, KindFile: 0, KindSymlink: 0}
	for _, n := range s.nodes {
		counts[n.Kind()]++
	}
	return counts
}

// Clone returns a deep copy that shares no slices with s.
func (s *Store) Clone() *Store {
	c := &Store{nodes: make(map[string]Node, len(s.nodes))}
	for p, n := range s.nodes {
		c.nodes[p] = n.clone()
	}
	return c
}

// Orphans returns the non-root paths whose parent is missing, is not a
// directory, or does not list them. A consistent store has none.
func (s *Store) Orphans() []string {
	var orphans []string
	for _, p := range s.Paths() {
		if p == RootPath {
			continue
		}
		d, err := s.dir(ParentOf(p))
		if err != nil || !d.HasChild(NameOf(p)) {
			orphans = append(orphans, p)
		}
	}
	return orphans
}
