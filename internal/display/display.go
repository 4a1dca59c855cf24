package display

import (
	"image"
	"sync"

	"github.com/junsooki/microscope/internal/frame"
)

// Display renders frames and reports key actions.
type Display interface {
	Run() error
}

// FrameSource provides decoded frames to the display. seq changes whenever
// a new frame is available, so the display uploads pixels only then.
type FrameSource interface {
	CurrentFrame() (img *image.RGBA, seq uint64)
}

// Action is a viewer key binding.
type Action int

const (
	ActionToggleStream Action = iota
	ActionCapture
	ActionToggleConnect
	ActionSaveLog
	ActionSaveFrame
)

func (a Action) String() string {
	switch a {
	case ActionToggleStream:
		return "toggle stream"
	case ActionCapture:
		return "capture"
	case ActionToggleConnect:
		return "toggle connect"
	case ActionSaveLog:
		return "save log"
	case ActionSaveFrame:
		return "save frame"
	}
	return "unknown"
}

// SlotSource reads the latest frame from a slot and converts it for
// display once per published frame.
type SlotSource struct {
	slot *frame.Slot

	mu  sync.Mutex
	seq uint64
	img *image.RGBA
}

// NewSlotSource wraps slot.
func NewSlotSource(slot *frame.Slot) *SlotSource {
	return &SlotSource{slot: slot}
}

func (s *SlotSource) CurrentFrame() (*image.RGBA, uint64) {
	f, seq, ok := s.slot.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.img, s.seq = nil, 0
		return nil, 0
	}
	if seq == s.seq && s.img != nil {
		return s.img, s.seq
	}
	img, err := f.RGBA()
	if err != nil {
		return s.img, s.seq
	}
	s.img, s.seq = img, seq
	return img, seq
}

// Holder keeps frames pushed from another goroutine, such as a network
// receiver.
type Holder struct {
	mu  sync.Mutex
	img *image.RGBA
	seq uint64
}

// SetFrame replaces the held frame.
func (h *Holder) SetFrame(img *image.RGBA) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.img = img
	h.seq++
}

func (h *Holder) CurrentFrame() (*image.RGBA, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.img, h.seq
}
