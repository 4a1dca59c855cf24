package frame

import "sync"

// Slot is a single-item, overwrite-on-write store for the most recent frame.
// The lock is held only for the pointer swap; frames are immutable, so a
// snapshot stays valid after later publishes.
type Slot struct {
	mu  sync.Mutex
	cur *Frame
	seq uint64
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Publish replaces the current frame. A nil frame is ignored.
func (s *Slot) Publish(f *Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	s.cur = f
	s.seq++
	s.mu.Unlock()
}

// Snapshot returns the latest frame and its publish sequence number.
// ok is false if nothing has been published yet.
func (s *Slot) Snapshot() (f *Frame, seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, s.seq, s.cur != nil
}

// Seq returns the number of publishes so far.
func (s *Slot) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
