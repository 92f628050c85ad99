package queue

import "container/heap"

// priorityHeap is a max-heap over *Item keyed by (priority desc, sequence
// asc), giving FIFO ordering within a priority band. It implements
// container/heap.Interface directly rather than wrapping a third-party
// heap, since the ordering predicate is the entire contract (C6, O(log n)
// push/pop, O(1) peek/len).
type priorityHeap []*Item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x interface{}) {
	*h = append(*h, x.(*Item))
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// coreHeap wraps priorityHeap with the exact operation set C6 names:
// Push, Pop, Peek, Len, RemoveWhere. Not safe for concurrent use — callers
// (the Queue Manager) serialize access behind their own lock.
type coreHeap struct {
	items priorityHeap
}

func newCoreHeap() *coreHeap {
	h := &coreHeap{items: make(priorityHeap, 0)}
	heap.Init(&h.items)
	return h
}

func (h *coreHeap) Push(item *Item) {
	heap.Push(&h.items, item)
}

func (h *coreHeap) Pop() *Item {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(&h.items).(*Item)
}

func (h *coreHeap) Peek() *Item {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func (h *coreHeap) Len() int { return len(h.items) }

// RemoveWhere does a linear scan for items matching pred, removes them all,
// and re-heapifies: O(n + n log n), as specified in §4.1.
func (h *coreHeap) RemoveWhere(pred func(*Item) bool) []*Item {
	var removed []*Item
	var kept priorityHeap
	for _, it := range h.items {
		if pred(it) {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	h.items = kept
	heap.Init(&h.items)
	return removed
}

// RemoveFirstWhere removes and returns the first item matching pred (used
// by DequeueFiltered), rebalancing the heap.
func (h *coreHeap) RemoveFirstWhere(pred func(*Item) bool) *Item {
	for i, it := range h.items {
		if pred(it) {
			last := len(h.items) - 1
			h.items[i] = h.items[last]
			h.items[last] = nil
			h.items = h.items[:last]
			heap.Init(&h.items)
			return it
		}
	}
	return nil
}

// Snapshot returns a shallow copy of the current items, for read-only
// inspection (partition distribution, persistence).
func (h *coreHeap) Snapshot() []*Item {
	out := make([]*Item, len(h.items))
	copy(out, h.items)
	return out
}
