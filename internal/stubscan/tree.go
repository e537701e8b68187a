package stubscan

import (
	"slices"

	"github.com/sizeview/sizeview/internal/protocol"
)

type node struct {
	name     string
	dir      bool
	size     uint64
	locked   bool
	scanned  bool
	parent   *node
	children []*node
}

// Tree is the in-memory filesystem behind the stub server. It is not safe
// for concurrent use.
type Tree struct {
	root      *node
	available uint64
	// directories waiting to be scanned, deepest first
	queue []*node
}

// NewTree builds a tree from a fixture. Unless the fixture is marked as
// scanned, every directory starts idle and is finished by ScanStep.
func NewTree(f *Fixture) *Tree {
	t := &Tree{
		root:      &node{dir: true},
		available: f.AvailableSpace,
	}
	for _, fn := range f.Tree {
		t.root.children = append(t.root.children, build(fn, t.root))
	}

	t.enqueue(t.root)
	if f.Scanned {
		for t.ScanStep() != nil {
		}
	}
	return t
}

func build(fn FixtureNode, parent *node) *node {
	n := &node{
		name:   fn.Name,
		dir:    fn.IsDir(),
		size:   fn.Size,
		locked: fn.Locked,
		parent: parent,
	}
	for _, child := range fn.Children {
		n.children = append(n.children, build(child, n))
	}
	return n
}

// enqueue appends n's directories in post-order so children finish before parents.
func (t *Tree) enqueue(n *node) {
	for _, c := range n.children {
		if c.dir {
			t.enqueue(c)
		}
	}
	t.queue = append(t.queue, n)
}

// Pending returns the number of directories not yet scanned.
func (t *Tree) Pending() int {
	return len(t.queue)
}

// ScanStep finishes the next directory and returns the updated entries for
// it and every ancestor, deepest first. It returns nil once the scan is done.
func (t *Tree) ScanStep() []protocol.Entry {
	if len(t.queue) == 0 {
		return nil
	}
	n := t.queue[0]
	t.queue = t.queue[1:]
	n.scanned = true

	var changed []protocol.Entry
	for cur := n; cur != nil; cur = cur.parent {
		changed = append(changed, t.entry(cur))
	}
	return changed
}

// Listing returns the directoryChange for path. When path does not name a
// directory the nearest existing ancestor directory is listed instead.
func (t *Tree) Listing(path protocol.Path) protocol.DirectoryChange {
	dir := t.root
	for _, name := range path {
		child := dir.child(name)
		if child == nil || !child.dir {
			break
		}
		dir = child
	}

	entries := make([]protocol.Entry, 0, len(dir.children))
	for _, c := range dir.children {
		entries = append(entries, t.entry(c))
	}

	var crumbs []protocol.Entry
	for cur := dir; cur != nil; cur = cur.parent {
		crumbs = append(crumbs, t.entry(cur))
	}
	slices.Reverse(crumbs)

	return protocol.DirectoryChange{
		CurrentDirectory:  crumbs[len(crumbs)-1],
		Entries:           entries,
		BreadcrumbEntries: crumbs,
		AvailableSpace:    t.available,
	}
}

// Remove deletes the node at path and everything below it.
func (t *Tree) Remove(path protocol.Path) error {
	if path.IsRoot() {
		return ErrRoot
	}
	n := t.find(path)
	if n == nil {
		return ErrNotFound
	}
	if n.anyLocked() {
		return ErrLocked
	}

	parent := n.parent
	parent.children = slices.DeleteFunc(parent.children, func(c *node) bool { return c == n })
	t.queue = slices.DeleteFunc(t.queue, func(q *node) bool { return q.within(n) })
	t.available += n.bytes()
	return nil
}

func (t *Tree) find(path protocol.Path) *node {
	cur := t.root
	for _, name := range path {
		cur = cur.child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (t *Tree) entry(n *node) protocol.Entry {
	path := n.path()
	if !n.dir {
		return protocol.NewFile(path, n.size)
	}
	return protocol.NewDirectory(path, n.scannedSize(), n.state())
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) path() protocol.Path {
	var p protocol.Path
	for cur := n; cur.parent != nil; cur = cur.parent {
		p = append(p, cur.name)
	}
	slices.Reverse(p)
	if p == nil {
		return protocol.Root()
	}
	return p
}

// scannedSize is the size a scanner would report so far: files count once
// their directory has been scanned.
func (n *node) scannedSize() uint64 {
	var total uint64
	for _, c := range n.children {
		switch {
		case c.dir:
			total += c.scannedSize()
		case n.scanned:
			total += c.size
		}
	}
	return total
}

// bytes is the full size regardless of scan progress.
func (n *node) bytes() uint64 {
	if !n.dir {
		return n.size
	}
	var total uint64
	for _, c := range n.children {
		total += c.bytes()
	}
	return total
}

func (n *node) progress() (scanned, total int) {
	if !n.dir {
		return 0, 0
	}
	total = 1
	if n.scanned {
		scanned = 1
	}
	for _, c := range n.children {
		s, t := c.progress()
		scanned += s
		total += t
	}
	return scanned, total
}

func (n *node) state() protocol.ScanState {
	scanned, total := n.progress()
	switch {
	case scanned == total:
		return protocol.ScanFinished
	case scanned == 0:
		return protocol.ScanIdle
	default:
		return protocol.ScanUpdating
	}
}

func (n *node) anyLocked() bool {
	if n.locked {
		return true
	}
	for _, c := range n.children {
		if c.anyLocked() {
			return true
		}
	}
	return false
}

func (n *node) within(ancestor *node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}
