package graph

// Node represents a file path in the build graph: a canonical path, the
// slash-bit vector needed to redisplay it in its original form, its
// mtime tri-state, dirty bit, at most one producing edge, and the edges
// that consume it.
type Node struct {
	path      string
	slashBits uint64

	mtime Mtime
	dirty bool

	// generatedByDepLoader is true for nodes synthesized while loading
	// implicit deps (from a depfile or the deps log) rather than declared in
	// the manifest. Such nodes don't trigger the "missing and no known rule"
	// error when absent and lacking an in-edge.
	generatedByDepLoader bool

	dyndepPending bool

	inEdge  *Edge
	outEdges []*Edge

	// id is the dense integer id DepsLog assigns the first time this node is
	// persisted; -1 until then.
	id int
}

// NewNode creates a node for the given canonical path and slash-bit vector.
func NewNode(path string, slashBits uint64) *Node {
	return &Node{path: path, slashBits: slashBits, id: -1}
}

func (n *Node) Path() string       { return n.path }
func (n *Node) SlashBits() uint64  { return n.slashBits }
func (n *Node) PathDecanonicalized() string {
	return Decanonicalize(n.path, n.slashBits)
}

func (n *Node) Mtime() Mtime { return n.mtime }

// Exists reports whether the node's file is known to exist. It is only
// meaningful after Stat/StatIfNecessary has been called.
func (n *Node) Exists() bool { return n.mtime.Exists() }

// StatusKnown reports whether Stat has been performed.
func (n *Node) StatusKnown() bool { return n.mtime.Known() }

func (n *Node) Dirty() bool         { return n.dirty }
func (n *Node) SetDirty(dirty bool) { n.dirty = dirty }
func (n *Node) MarkDirty()          { n.dirty = true }

func (n *Node) DyndepPending() bool          { return n.dyndepPending }
func (n *Node) SetDyndepPending(pending bool) { n.dyndepPending = pending }

func (n *Node) InEdge() *Edge         { return n.inEdge }
func (n *Node) SetInEdge(e *Edge)     { n.inEdge = e }

func (n *Node) OutEdges() []*Edge { return n.outEdges }
func (n *Node) AddOutEdge(e *Edge) { n.outEdges = append(n.outEdges, e) }

func (n *Node) GeneratedByDepLoader() bool          { return n.generatedByDepLoader }
func (n *Node) SetGeneratedByDepLoader(v bool)      { n.generatedByDepLoader = v }

func (n *Node) ID() int      { return n.id }
func (n *Node) SetID(id int) { n.id = id }

// ResetState marks the node as not-yet-stat'd and not dirty, used before a
// fresh DependencyScan pass (e.g. at the start of each rebuild cycle of the
// manifest-reload loop).
func (n *Node) ResetState() {
	n.mtime = Unknown()
	n.dirty = false
}

// MarkMissing records that the node was stat'd and does not exist.
func (n *Node) MarkMissing() {
	n.mtime = Missing()
}

// Stat queries disk for the node's mtime via the given stat function and
// updates its state accordingly. Returns an error if the stat itself
// failed (as opposed to the file simply not existing).
func (n *Node) Stat(stat func(path string) (exists bool, modTime int64, err error)) error {
	exists, modTime, err := stat(n.path)
	if err != nil {
		return err
	}
	if exists {
		n.mtime = Present(modTime)
	} else {
		n.mtime = Missing()
	}
	return nil
}

// StatIfNecessary calls Stat only if the node's status isn't already known.
func (n *Node) StatIfNecessary(stat func(path string) (bool, int64, error)) error {
	if n.StatusKnown() {
		return nil
	}
	return n.Stat(stat)
}
