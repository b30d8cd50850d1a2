package graph

import "fmt"

// Graph is the in-memory bipartite DAG of Nodes and Edges the manifest
// front-end populates: path-interned nodes, every edge, every named pool,
// the top-level bindings scope, and the set of default targets.
type Graph struct {
	paths    map[string]*Node
	pools    map[string]*Pool
	edges    []*Edge
	Bindings *BindingEnv
	defaults []*Node
}

// NewGraph creates an empty graph pre-seeded with the phony rule and the
// default/console pools, matching the teacher's NewState.
func NewGraph() *Graph {
	g := &Graph{
		paths:    make(map[string]*Node),
		pools:    make(map[string]*Pool),
		Bindings: NewBindingEnv(),
	}
	g.Bindings.AddRule(PhonyRule)
	g.AddPool(DefaultPool)
	g.AddPool(ConsolePool)
	return g
}

// AddPool registers pool under its name. It is a manifest-structural error
// (panics, caught by the parser) to register the same name twice.
func (g *Graph) AddPool(p *Pool) {
	if _, exists := g.pools[p.Name()]; exists {
		panic("duplicate pool: " + p.Name())
	}
	g.pools[p.Name()] = p
}

func (g *Graph) LookupPool(name string) *Pool { return g.pools[name] }

// AddEdge creates a new edge bound to rule, in the default pool, scoped to
// the graph's top-level bindings, and appends it to the graph.
func (g *Graph) AddEdge(rule *Rule) *Edge {
	e := NewEdge(len(g.edges), rule, DefaultPool, g.Bindings)
	g.edges = append(g.edges, e)
	return e
}

func (g *Graph) Edges() []*Edge { return g.edges }

// GetNode interns path (assumed already canonical) under the given
// slash-bit vector, creating the Node on first observation and retaining
// the first-seen slash bits thereafter.
func (g *Graph) GetNode(path string, slashBits uint64) *Node {
	if n, ok := g.paths[path]; ok {
		return n
	}
	n := NewNode(path, slashBits)
	g.paths[path] = n
	return n
}

func (g *Graph) LookupNode(path string) *Node { return g.paths[path] }

// Nodes returns every interned node, for DepsLog loading / tests.
func (g *Graph) Nodes() map[string]*Node { return g.paths }

// AddIn appends path to edge's explicit-input region and wires the
// back-reference.
func (g *Graph) AddIn(e *Edge, path string, slashBits uint64) {
	n := g.GetNode(path, slashBits)
	n.SetGeneratedByDepLoader(false)
	e.AddInput(n)
}

// AddOut appends path to edge's explicit-output region. It is a manifest
// error for two edges to claim the same output.
func (g *Graph) AddOut(e *Edge, path string, slashBits uint64) error {
	n := g.GetNode(path, slashBits)
	if other := n.InEdge(); other != nil {
		if other == e {
			return fmt.Errorf("%s is defined as an output multiple times", path)
		}
		return fmt.Errorf("multiple rules generate %s", path)
	}
	e.AddOutput(n)
	n.SetGeneratedByDepLoader(false)
	return nil
}

// AddValidation appends path to edge's validation list.
func (g *Graph) AddValidation(e *Edge, path string, slashBits uint64) {
	n := g.GetNode(path, slashBits)
	e.AddValidation(n)
	n.SetGeneratedByDepLoader(false)
}

// AddDefault records path as a default build target.
func (g *Graph) AddDefault(path string) error {
	n := g.LookupNode(path)
	if n == nil {
		if suggestion := g.SpellcheckNode(path); suggestion != nil {
			return fmt.Errorf("unknown target '%s', did you mean '%s'?", path, suggestion.Path())
		}
		return fmt.Errorf("unknown target '%s'", path)
	}
	g.defaults = append(g.defaults, n)
	return nil
}

func (g *Graph) Defaults() []*Node { return g.defaults }

// RootNodes returns nodes that are outputs of some edge but not an input to
// any other: the natural build targets when none are specified explicitly.
func (g *Graph) RootNodes() []*Node {
	var roots []*Node
	for _, e := range g.edges {
		for _, out := range e.Outputs() {
			if len(out.OutEdges()) == 0 {
				roots = append(roots, out)
			}
		}
	}
	return roots
}
