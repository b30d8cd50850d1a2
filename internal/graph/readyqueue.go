package graph

import "github.com/ahrtr/gocontainer/queue/priorityqueue"

// edgeCmp orders edges by descending critical-path weight so Plan dispatches
// the longest remaining dependency chain first when several edges are
// simultaneously ready, per SPEC_FULL's critical-path scheduling
// supplement. Ties fall back to edge id for determinism.
type edgeCmp struct{}

func (edgeCmp) Compare(a, b interface{}) (int, error) {
	ea, eb := a.(*Edge), b.(*Edge)
	if ea.criticalPathWeight != eb.criticalPathWeight {
		if ea.criticalPathWeight > eb.criticalPathWeight {
			return -1, nil
		}
		return 1, nil
	}
	switch {
	case ea.id < eb.id:
		return -1, nil
	case ea.id > eb.id:
		return 1, nil
	default:
		return 0, nil
	}
}

// ReadyQueue is the Plan's queue of edges that are ready to run, ordered by
// critical-path weight (see edgeCmp), grounded in the teacher's
// build_plan.go use of github.com/ahrtr/gocontainer/queue/priorityqueue.
type ReadyQueue struct {
	pq priorityqueue.Interface
}

// NewReadyQueue creates an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{pq: priorityqueue.New().WithComparator(edgeCmp{})}
}

func (q *ReadyQueue) Push(e *Edge)  { q.pq.Add(e) }
func (q *ReadyQueue) Empty() bool   { return q.pq.IsEmpty() }
func (q *ReadyQueue) Len() int      { return q.pq.Size() }
func (q *ReadyQueue) Clear()        { q.pq.Clear() }

// Pop removes and returns the highest-priority ready edge, or nil if the
// queue is empty.
func (q *ReadyQueue) Pop() *Edge {
	if q.pq.IsEmpty() {
		return nil
	}
	return q.pq.Poll().(*Edge)
}
