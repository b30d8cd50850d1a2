package graph

import "github.com/edwingeng/deque"

// Pool is a named admission gate bounding how many edges may run
// concurrently. Depth 0 means unlimited; depth -1 is the special
// "console" pool, which is serialized and whose active edge owns the
// terminal.
type Pool struct {
	name     string
	depth    int
	inUse    int
	delayed  deque.Deque // FIFO queue of *Edge waiting for admission
}

// NewPool creates a pool with the given concurrency depth.
func NewPool(name string, depth int) *Pool {
	return &Pool{name: name, depth: depth, delayed: deque.NewDeque()}
}

// DefaultPool is used by edges that don't name a pool: unlimited depth.
var DefaultPool = NewPool("", 0)

// ConsolePool serializes edges that need the TTY (rule binding
// `pool = console`).
var ConsolePool = NewPool("console", -1)

func (p *Pool) Name() string { return p.name }
func (p *Pool) Depth() int   { return p.depth }
func (p *Pool) InUse() int   { return p.inUse }

// IsValid reports whether depth is a recognized pool depth (console or a
// non-negative concurrency cap).
func (p *Pool) IsValid() bool { return p.depth >= 0 || p == ConsolePool }

// effectiveDepth treats the console pool's sentinel depth -1 as a
// concurrency cap of 1, so it is serialized through the same admission
// path as any other bounded pool instead of being skipped entirely.
func (p *Pool) effectiveDepth() int {
	if p.depth < 0 {
		return 1
	}
	return p.depth
}

// ShouldDelayEdge reports whether admitting one more edge would exceed the
// pool's depth. Unlimited pools (depth 0) never delay.
func (p *Pool) ShouldDelayEdge() bool {
	d := p.effectiveDepth()
	if d <= 0 {
		return false
	}
	return p.inUse >= d
}

// EdgeScheduled records that edge has been admitted and is now running.
func (p *Pool) EdgeScheduled(e *Edge) {
	if p.effectiveDepth() > 0 {
		p.inUse++
	}
}

// EdgeFinished releases the slot edge was occupying.
func (p *Pool) EdgeFinished(e *Edge) {
	if p.effectiveDepth() > 0 {
		p.inUse--
	}
}

// DelayEdge places edge on the FIFO queue of edges waiting for admission.
func (p *Pool) DelayEdge(e *Edge) {
	p.delayed.PushBack(e)
}

// RetrieveReadyEdges drains as many delayed edges as the pool can now admit
// into ready, preserving FIFO order among the delayed edges.
func (p *Pool) RetrieveReadyEdges(ready *ReadyQueue) {
	for !p.delayed.Empty() {
		if p.ShouldDelayEdge() {
			break
		}
		e := p.delayed.Front().(*Edge)
		p.delayed.PopFront()
		p.EdgeScheduled(e)
		ready.Push(e)
	}
}

// DelayedLen reports how many edges are currently waiting for admission.
func (p *Pool) DelayedLen() int { return p.delayed.Len() }
