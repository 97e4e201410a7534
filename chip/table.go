package chip

import "sync"

// Handle is a generational index into a Table. The zero Handle is invalid.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) Valid() bool { return h.Gen != 0 }

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Table owns chip instances and hands out generational handles. A handle
// stays valid until its slot is removed; a reused slot gets a new generation,
// so stale handles never alias a newer instance.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	n     int
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if k := len(t.free); k > 0 {
		idx = t.free[k-1]
		t.free = t.free[:k-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.gen++
	s.live = true
	s.val = v
	t.n++
	return Handle{Index: idx, Gen: s.gen}
}

// Get returns the value for h, or false if h is stale or unknown.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if int(h.Index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return zero, false
	}
	return s.val, true
}

// Remove drops the value for h. It reports whether h was live.
func (t *Table[T]) Remove(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h.Index) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return false
	}
	var zero T
	s.val = zero
	s.live = false
	t.free = append(t.free, h.Index)
	t.n--
	return true
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}
