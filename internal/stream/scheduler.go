// Package stream drives a capture session at a bounded cadence and publishes
// frames into a slot.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/frame"
)

// DefaultInterval approximates 30 fps.
const DefaultInterval = 33 * time.Millisecond

// Reader is the part of a capture session the scheduler needs.
type Reader interface {
	ReadFrame(ctx context.Context) (*frame.Frame, error)
}

// Scheduler is an Idle/Running state machine. Tick is its only scheduling
// point; it is called by the host's poll or redraw loop.
type Scheduler struct {
	slot     *frame.Slot
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	src      Reader
	running  bool
	gen      uint64
	inflight bool
	lastRead time.Time
	stats    Stats
	skipped  uint64
	errors   uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the minimum time between two reads.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates an idle scheduler publishing into slot.
func NewScheduler(slot *frame.Slot, opts ...Option) *Scheduler {
	s := &Scheduler{
		slot:     slot,
		interval: DefaultInterval,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start moves Idle to Running with src as the frame source and resets the
// stats. It returns false and changes nothing if already running.
func (s *Scheduler) Start(src Reader) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || src == nil {
		return false
	}
	s.src = src
	s.running = true
	s.gen++
	s.lastRead = time.Time{}
	s.stats.Reset(s.now())
	s.skipped = 0
	s.errors = 0
	s.log.Info("stream started", "interval", s.interval)
	return true
}

// Stop moves Running to Idle. An in-flight read is not cancelled; its
// result is dropped. Returns false if already idle.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.running = false
	s.src = nil
	s.gen++
	s.log.Info("stream stopped", "frames", s.stats.total)
	return true
}

// Running reports whether the scheduler is in the Running state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running: s.running,
		FPS:     s.stats.fps,
		Frames:  s.stats.total,
		Skipped: s.skipped,
		Errors:  s.errors,
	}
}

// Tick performs at most one read when Running and the interval has elapsed.
// NoData and Busy failures are logged and swallowed. Any other failure is
// returned and the scheduler stays Running; the caller decides whether to
// stop.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.inflight {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	if !s.lastRead.IsZero() && now.Sub(s.lastRead) < s.interval {
		s.mu.Unlock()
		return nil
	}
	s.lastRead = now
	s.inflight = true
	src, gen := s.src, s.gen
	s.mu.Unlock()

	f, err := src.ReadFrame(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false

	if !s.running || gen != s.gen {
		s.log.Debug("dropping frame read after stop")
		return nil
	}

	if err != nil {
		if kind, ok := capture.KindOf(err); ok && (kind == capture.KindNoData || kind == capture.KindBusy) {
			s.skipped++
			s.log.Warn("capture skipped", "err", err)
			return nil
		}
		s.errors++
		s.log.Error("capture failed", "err", err)
		return err
	}

	s.slot.Publish(f)
	s.stats.Observe(s.now())
	return nil
}
