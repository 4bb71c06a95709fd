// Package handle maps opaque integer handles to Go values.
//
// A handle packs a slot index and the slot's generation. Removing a value
// bumps the generation, so a handle kept after removal no longer resolves
// even when the slot is reused.
package handle

import (
	"errors"
	"sync"
)

// ErrStale is returned for handles that were removed or never issued.
var ErrStale = errors.New("handle: stale or invalid handle")

// Handle identifies a value of a Table. The zero Handle is never issued.
type Handle uint64

// Ref is the decoded form of a Handle.
type Ref struct {
	Gen   uint32
	Index uint32
}

func (h Handle) ref() Ref {
	return Ref{Gen: uint32(h >> 32), Index: uint32(h)}
}

func (r Ref) handle() Handle {
	return Handle(uint64(r.Gen)<<32 | uint64(r.Index))
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Table is a concurrency-safe handle table. The zero value is ready to use.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slots == nil {
		// Index 0 is reserved so the zero Handle stays invalid.
		t.slots = make([]slot[T], 1)
	}
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.val = v
	return Ref{Gen: s.gen, Index: idx}.handle()
}

func (t *Table[T]) lookup(h Handle) (*slot[T], error) {
	r := h.ref()
	if r.Index == 0 || int(r.Index) >= len(t.slots) {
		return nil, ErrStale
	}
	s := &t.slots[r.Index]
	if !s.live || s.gen != r.Gen {
		return nil, ErrStale
	}
	return s, nil
}

// Get returns the value of h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Remove invalidates h and returns its value. Removing a handle twice fails
// with ErrStale.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, err := t.lookup(h)
	if err != nil {
		return zero, err
	}
	v := s.val
	s.val = zero
	s.live = false
	t.free = append(t.free, h.ref().Index)
	return v, nil
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.slots) == 0 {
		return 0
	}
	return len(t.slots) - 1 - len(t.free)
}
