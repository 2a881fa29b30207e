package util

import (
	"testing"
)

// TestMapHeapScheduleAndPop verifies deadlines come out in order
func TestMapHeapScheduleAndPop(t *testing.T) {
	h := NewMapHeap[string]()

	h.Schedule("c", 300)
	h.Schedule("a", 100)
	h.Schedule("b", 200)

	if h.Len() != 3 {
		t.Fatalf("Expected 3 items, got %d", h.Len())
	}

	key, deadline, ok := h.Peek()
	if !ok || key != "a" || deadline != 100 {
		t.Errorf("Peek: expected (a, 100), got (%s, %d, %v)", key, deadline, ok)
	}

	// Nothing due at t=50
	if _, ok := h.PopDue(50); ok {
		t.Error("PopDue(50) should return nothing")
	}

	// a and b due at t=250
	expectOrder := []string{"a", "b"}
	for _, want := range expectOrder {
		key, ok := h.PopDue(250)
		if !ok || key != want {
			t.Errorf("PopDue(250): expected %s, got (%s, %v)", want, key, ok)
		}
	}

	// c not yet due
	if _, ok := h.PopDue(250); ok {
		t.Error("PopDue(250) should not return c")
	}
	if h.Len() != 1 {
		t.Errorf("Expected 1 remaining item, got %d", h.Len())
	}
}

// TestMapHeapReschedule verifies that scheduling an existing key moves it
// (a heartbeat pushing an instance deadline into the future)
func TestMapHeapReschedule(t *testing.T) {
	h := NewMapHeap[string]()

	h.Schedule("instance-1", 100)
	h.Schedule("instance-2", 200)

	// Heartbeat arrives, instance-1 gets a later deadline
	h.Schedule("instance-1", 300)

	key, ok := h.PopDue(250)
	if !ok || key != "instance-2" {
		t.Errorf("Expected instance-2 first after reschedule, got (%s, %v)", key, ok)
	}

	deadline, ok := h.Deadline("instance-1")
	if !ok || deadline != 300 {
		t.Errorf("Expected instance-1 deadline 300, got (%d, %v)", deadline, ok)
	}

	if h.Len() != 1 {
		t.Errorf("Expected 1 item, got %d", h.Len())
	}
}

// TestMapHeapCancel verifies key-based removal (deregister cancels the sweep)
func TestMapHeapCancel(t *testing.T) {
	h := NewMapHeap[string]()

	h.Schedule("x", 100)
	h.Schedule("y", 200)
	h.Schedule("z", 300)

	deadline, ok := h.Cancel("y")
	if !ok || deadline != 200 {
		t.Errorf("Cancel(y): expected (200, true), got (%d, %v)", deadline, ok)
	}

	if h.Contains("y") {
		t.Error("y should be gone after Cancel")
	}

	if _, ok := h.Cancel("y"); ok {
		t.Error("Second Cancel(y) should return false")
	}

	// Remaining order intact
	key, ok := h.PopDue(500)
	if !ok || key != "x" {
		t.Errorf("Expected x, got (%s, %v)", key, ok)
	}
	key, ok = h.PopDue(500)
	if !ok || key != "z" {
		t.Errorf("Expected z, got (%s, %v)", key, ok)
	}
}

// TestMapHeapEmpty verifies behavior on an empty heap
func TestMapHeapEmpty(t *testing.T) {
	h := NewMapHeap[uint64]()

	if _, _, ok := h.Peek(); ok {
		t.Error("Peek on empty heap should return false")
	}
	if _, ok := h.PopDue(1 << 62); ok {
		t.Error("PopDue on empty heap should return false")
	}
	if h.Contains(42) {
		t.Error("Contains on empty heap should return false")
	}
	if h.Len() != 0 {
		t.Errorf("Expected empty heap, got %d items", h.Len())
	}
}

// TestMapHeapManyKeys stresses ordering with a larger batch
func TestMapHeapManyKeys(t *testing.T) {
	h := NewMapHeap[int]()

	const n = 1000
	// Insert in a scattered order
	for i := 0; i < n; i++ {
		key := (i * 7919) % n
		h.Schedule(key, int64(key))
	}

	prev := int64(-1)
	for i := 0; i < n; i++ {
		key, ok := h.PopDue(int64(n))
		if !ok {
			t.Fatalf("PopDue failed at item %d", i)
		}
		if int64(key) < prev {
			t.Errorf("Out of order: %d after %d", key, prev)
		}
		prev = int64(key)
	}

	if h.Len() != 0 {
		t.Errorf("Heap should be empty, has %d", h.Len())
	}
}
