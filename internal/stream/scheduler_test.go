package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scriptedReader struct {
	mu    sync.Mutex
	errs  []error
	reads int
}

func (r *scriptedReader) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return frame.New([]byte{byte(r.reads), 0, 0}, 1, 1, frame.LayoutRGB, time.Now())
}

func newTestScheduler(clock *fakeClock) (*Scheduler, *frame.Slot) {
	slot := frame.NewSlot()
	s := NewScheduler(slot,
		WithInterval(10*time.Millisecond),
		WithClock(clock.Now),
		WithLogger(log.Discard()),
	)
	return s, slot
}

func TestTickIdleIsNoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, slot := newTestScheduler(clock)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, uint64(0), slot.Seq())
}

func TestStartStopIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, _ := newTestScheduler(clock)
	r := &scriptedReader{}

	assert.True(t, s.Start(r))
	assert.False(t, s.Start(r))
	assert.True(t, s.Running())

	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	assert.False(t, s.Running())
}

func TestStartWithoutSource(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, _ := newTestScheduler(clock)
	assert.False(t, s.Start(nil))
	assert.False(t, s.Running())
}

func TestTickRespectsInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, slot := newTestScheduler(clock)
	r := &scriptedReader{}
	s.Start(r)

	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, uint64(1), slot.Seq())

	clock.Advance(10 * time.Millisecond)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, uint64(2), slot.Seq())
}

func TestNoDataKeepsStreaming(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, slot := newTestScheduler(clock)
	r := &scriptedReader{errs: []error{
		capture.NoData("read", "empty"),
		capture.Busy("read"),
	}}
	s.Start(r)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(context.Background()))
		clock.Advance(10 * time.Millisecond)
	}

	assert.True(t, s.Running())
	assert.Equal(t, uint64(1), slot.Seq())
	assert.Equal(t, uint64(2), s.Stats().Skipped)
}

func TestOtherErrorsSurfaceAndKeepRunning(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, _ := newTestScheduler(clock)
	boom := &capture.CaptureError{Kind: capture.KindFatal, Op: "read", Err: errors.New("spawn failed")}
	s.Start(&scriptedReader{errs: []error{boom}})

	err := s.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	assert.True(t, s.Running())
	assert.Equal(t, uint64(1), s.Stats().Errors)
}

func TestFPSRollsOverEverySecond(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, _ := newTestScheduler(clock)
	s.Start(&scriptedReader{})

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Tick(context.Background()))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 0.0, s.Stats().FPS)

	require.NoError(t, s.Tick(context.Background()))
	assert.InDelta(t, 10.0, s.Stats().FPS, 0.5)
	assert.Equal(t, uint64(11), s.Stats().Frames)

	s.Stop()
	s.Start(&scriptedReader{})
	assert.Equal(t, 0.0, s.Stats().FPS)
	assert.Equal(t, uint64(0), s.Stats().Frames)
}

type blockingReader struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingReader) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	close(r.started)
	<-r.release
	return frame.New([]byte{1, 2, 3}, 1, 1, frame.LayoutRGB, time.Now())
}

func TestInflightReadDiscardedAfterStop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, slot := newTestScheduler(clock)
	r := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	s.Start(r)

	done := make(chan error, 1)
	go func() { done <- s.Tick(context.Background()) }()

	<-r.started
	assert.True(t, s.Stop())
	close(r.release)

	require.NoError(t, <-done)
	assert.Equal(t, uint64(0), slot.Seq())
	assert.False(t, s.Running())
}

func TestConcurrentTickSkipsWhileInflight(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s, slot := newTestScheduler(clock)
	r := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	s.Start(r)

	done := make(chan error, 1)
	go func() { done <- s.Tick(context.Background()) }()
	<-r.started

	clock.Advance(time.Second)
	require.NoError(t, s.Tick(context.Background()))

	close(r.release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), slot.Seq())
}
