// Package pqueue implements a pairing-heap min-priority queue with O(1)
// amortised decrease-key, plus a wrapper keyed by caller-supplied tags.
//
// Nodes live in an arena and link to each other by index. Each node keeps
// its leftmost child, its right sibling and a back link (the parent for a
// leftmost child, otherwise the left sibling) so a subtree can be cut out in
// constant time.
package pqueue

import "fmt"

const none int32 = -1

// Handle identifies an element inside a Heap. It stays valid until the
// element is popped; after that the slot may be reused.
type Handle int32

type node[T any] struct {
	value   T
	weight  float64
	seq     uint64
	prev    int32
	child   int32
	sibling int32
	live    bool
}

// Heap is a min-heap ordered by weight. Elements with equal weight pop in
// insertion order. The zero value is not usable; call New.
type Heap[T any] struct {
	nodes []node[T]
	free  []int32
	root  int32
	size  int
	seq   uint64
}

// New returns an empty heap.
func New[T any]() *Heap[T] {
	return &Heap[T]{root: none}
}

// Len returns the number of queued elements.
func (h *Heap[T]) Len() int { return h.size }

func (h *Heap[T]) less(a, b int32) bool {
	na, nb := &h.nodes[a], &h.nodes[b]
	if na.weight != nb.weight {
		return na.weight < nb.weight
	}
	return na.seq < nb.seq
}

// meld links two root nodes and returns the new root.
func (h *Heap[T]) meld(a, b int32) int32 {
	if a == none {
		return b
	}
	if b == none {
		return a
	}
	if h.less(b, a) {
		a, b = b, a
	}
	// b becomes the leftmost child of a.
	nb := &h.nodes[b]
	nb.sibling = h.nodes[a].child
	nb.prev = a
	if nb.sibling != none {
		h.nodes[nb.sibling].prev = b
	}
	h.nodes[a].child = b
	return a
}

// Add inserts value with the given weight.
func (h *Heap[T]) Add(value T, weight float64) Handle {
	n := node[T]{
		value:   value,
		weight:  weight,
		seq:     h.seq,
		prev:    none,
		child:   none,
		sibling: none,
		live:    true,
	}
	h.seq++

	var idx int32
	if k := len(h.free); k > 0 {
		idx = h.free[k-1]
		h.free = h.free[:k-1]
		h.nodes[idx] = n
	} else {
		idx = int32(len(h.nodes))
		h.nodes = append(h.nodes, n)
	}
	h.root = h.meld(h.root, idx)
	h.size++
	return Handle(idx)
}

// Peek returns the minimum element without removing it.
func (h *Heap[T]) Peek() (T, float64) {
	if h.root == none {
		panic("pqueue: Peek on empty heap")
	}
	n := &h.nodes[h.root]
	return n.value, n.weight
}

// Pop removes and returns the minimum element. Popping an empty heap panics.
func (h *Heap[T]) Pop() (T, float64) {
	if h.root == none {
		panic("pqueue: Pop on empty heap")
	}
	old := h.root
	n := h.nodes[old]
	h.root = h.mergePairs(n.child)
	if h.root != none {
		h.nodes[h.root].prev = none
	}

	var zero T
	h.nodes[old] = node[T]{value: zero, prev: none, child: none, sibling: none}
	h.free = append(h.free, old)
	h.size--
	return n.value, n.weight
}

// mergePairs melds a sibling list: pairs left to right, then folds the pairs
// right to left.
func (h *Heap[T]) mergePairs(first int32) int32 {
	if first == none {
		return none
	}
	var pairs []int32
	for cur := first; cur != none; {
		a := cur
		b := h.nodes[a].sibling
		var next int32 = none
		if b != none {
			next = h.nodes[b].sibling
		}
		h.detach(a)
		if b != none {
			h.detach(b)
		}
		pairs = append(pairs, h.meld(a, b))
		cur = next
	}
	root := pairs[len(pairs)-1]
	for i := len(pairs) - 2; i >= 0; i-- {
		root = h.meld(pairs[i], root)
	}
	return root
}

func (h *Heap[T]) detach(i int32) {
	h.nodes[i].prev = none
	h.nodes[i].sibling = none
}

// Weight returns the current weight of a queued element.
func (h *Heap[T]) Weight(hd Handle) float64 {
	return h.node(hd).weight
}

// Value returns the value of a queued element.
func (h *Heap[T]) Value(hd Handle) T {
	return h.node(hd).value
}

func (h *Heap[T]) node(hd Handle) *node[T] {
	i := int32(hd)
	if i < 0 || int(i) >= len(h.nodes) || !h.nodes[i].live {
		panic(fmt.Sprintf("pqueue: invalid handle %d", hd))
	}
	return &h.nodes[i]
}

// DecreaseWeight lowers the weight of a queued element. Raising a weight is
// a programming error and panics.
func (h *Heap[T]) DecreaseWeight(hd Handle, weight float64) {
	n := h.node(hd)
	if weight > n.weight {
		panic(fmt.Sprintf("pqueue: DecreaseWeight from %v to %v", n.weight, weight))
	}
	n.weight = weight
	i := int32(hd)
	if i == h.root {
		return
	}

	// Cut the subtree rooted at i out of its sibling chain.
	prev, next := n.prev, n.sibling
	if h.nodes[prev].child == i {
		h.nodes[prev].child = next
	} else {
		h.nodes[prev].sibling = next
	}
	if next != none {
		h.nodes[next].prev = prev
	}
	h.detach(i)
	h.root = h.meld(h.root, i)
}
