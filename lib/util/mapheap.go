// This file provides a priority queue with key-based access, used by the
// expiry sweep loops.
//
// The implementation combines a binary min-heap with a hash map so that the
// sweepers can both (a) pop the next due deadline in O(log n) and (b) reschedule
// or cancel a specific key in O(log n) when a heartbeat or an unlock arrives.
//
// The AP sweeper keeps one MapHeap ordering owned instance keys by their next
// heartbeat deadline. Priorities are unix-milli timestamps; the minimum
// element is the next due key.
//
// Concurrency: MapHeap is not thread-safe. Each sweep loop owns its heap
// exclusively; cross-goroutine updates go through the owning loop.
package util

import (
	"container/heap"
)

// heapItem is a single scheduled deadline
type heapItem[K comparable] struct {
	key      K
	priority int64 // deadline, unix-milli
	index    int   // index in the heap, maintained by the heap package
}

// MapHeap implements a deadline queue with both heap ordering and
// key-based access
type MapHeap[K comparable] struct {
	items    []*heapItem[K]
	itemsMap map[K]*heapItem[K]
}

// NewMapHeap creates a new deadline queue
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*heapItem[K], 0),
		itemsMap: make(map[K]*heapItem[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (h *MapHeap[K]) Len() int { return len(h.items) }

// Less compares items by deadline (part of heap.Interface)
// The sweepers want the earliest deadline first (min-heap)
func (h *MapHeap[K]) Less(i, j int) bool {
	return h.items[i].priority < h.items[j].priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (h *MapHeap[K]) Push(x interface{}) {
	n := len(h.items)
	it := x.(*heapItem[K])
	it.index = n
	h.items = append(h.items, it)
	h.itemsMap[it.key] = it
}

// Pop removes and returns the minimum item (part of heap.Interface)
func (h *MapHeap[K]) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil  // avoid memory leak
	it.index = -1   // for safety
	h.items = old[:n-1]
	delete(h.itemsMap, it.key)
	return it
}

// Schedule adds a new deadline for key or reschedules an existing one
func (h *MapHeap[K]) Schedule(key K, deadline int64) {
	if it, exists := h.itemsMap[key]; exists {
		it.priority = deadline
		heap.Fix(h, it.index)
		return
	}

	heap.Push(h, &heapItem[K]{
		key:      key,
		priority: deadline,
	})
}

// Cancel removes the deadline for key.
// Returns the cancelled deadline and true, or false if the key was not scheduled.
func (h *MapHeap[K]) Cancel(key K) (int64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}

	heap.Remove(h, it.index)
	return it.priority, true
}

// Peek returns the key with the earliest deadline without removing it
func (h *MapHeap[K]) Peek() (K, int64, bool) {
	if len(h.items) == 0 {
		var zero K
		return zero, 0, false
	}
	return h.items[0].key, h.items[0].priority, true
}

// PopDue removes and returns the earliest key if its deadline is <= now.
// The sweepers call this in a loop until it returns false.
func (h *MapHeap[K]) PopDue(now int64) (K, bool) {
	if len(h.items) == 0 || h.items[0].priority > now {
		var zero K
		return zero, false
	}
	it := heap.Pop(h).(*heapItem[K])
	return it.key, true
}

// Contains checks if a key is scheduled
func (h *MapHeap[K]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Deadline retrieves the scheduled deadline for a key without removing it
func (h *MapHeap[K]) Deadline(key K) (int64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.priority, true
}
