package pqueue

type tagged[K comparable, T any] struct {
	tag   K
	value T
}

// Tagged is a min-queue holding at most one element per tag.
type Tagged[K comparable, T any] struct {
	heap    *Heap[tagged[K, T]]
	handles map[K]Handle
}

// NewTagged returns an empty tag-indexed queue.
func NewTagged[K comparable, T any]() *Tagged[K, T] {
	return &Tagged[K, T]{
		heap:    New[tagged[K, T]](),
		handles: make(map[K]Handle),
	}
}

// Len returns the number of queued tags.
func (q *Tagged[K, T]) Len() int { return q.heap.Len() }

// Contains reports whether tag is currently queued.
func (q *Tagged[K, T]) Contains(tag K) bool {
	_, ok := q.handles[tag]
	return ok
}

// Upsert queues tag with weight, or lowers the weight of an already queued
// tag. A weight that does not improve on the queued one is ignored. It
// reports whether the queue changed.
func (q *Tagged[K, T]) Upsert(tag K, value T, weight float64) bool {
	hd, ok := q.handles[tag]
	if !ok {
		q.handles[tag] = q.heap.Add(tagged[K, T]{tag: tag, value: value}, weight)
		return true
	}
	if weight >= q.heap.Weight(hd) {
		return false
	}
	q.heap.node(hd).value.value = value
	q.heap.DecreaseWeight(hd, weight)
	return true
}

// Peek returns the lowest-weight entry without removing it.
func (q *Tagged[K, T]) Peek() (K, T, float64) {
	e, w := q.heap.Peek()
	return e.tag, e.value, w
}

// Pop removes and returns the lowest-weight entry. The tag may be queued
// again afterwards.
func (q *Tagged[K, T]) Pop() (K, T, float64) {
	e, w := q.heap.Pop()
	delete(q.handles, e.tag)
	return e.tag, e.value, w
}
