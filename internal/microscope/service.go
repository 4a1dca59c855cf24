// Package microscope is the command surface the viewer, the HTTP API and
// the CLI call into. A Service owns at most one capture session.
package microscope

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/encoder"
	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/persist"
	"github.com/junsooki/microscope/internal/stream"
)

// ErrAlreadyConnected is wrapped in the ConnectError returned by a second
// Connect.
var ErrAlreadyConnected = errors.New("session already open")

// Options configures a Service.
type Options struct {
	Device      capture.DeviceConfig
	Driver      capture.Driver
	Gate        *persist.Gate
	LiveQuality int
	Interval    time.Duration
	Log         *slog.Logger
	Clock       func() time.Time
}

// Service holds the session state that the original kept in globals.
type Service struct {
	dev    capture.DeviceConfig
	driver capture.Driver
	gate   *persist.Gate
	live   *encoder.JPEGEncoder
	slot   *frame.Slot
	sched  *stream.Scheduler
	book   *LogBook
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	session capture.Session
}

// New creates a disconnected service.
func New(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.LiveQuality == 0 {
		opts.LiveQuality = 80
	}
	slot := frame.NewSlot()
	return &Service{
		dev:    opts.Device,
		driver: opts.Driver,
		gate:   opts.Gate,
		live:   encoder.NewJPEGEncoder(opts.LiveQuality),
		slot:   slot,
		sched: stream.NewScheduler(slot,
			stream.WithInterval(opts.Interval),
			stream.WithLogger(opts.Log.With("component", "stream")),
		),
		book: NewLogBook(100),
		log:  opts.Log,
		now:  opts.Clock,
	}
}

// Slot exposes the frame slot to viewers.
func (s *Service) Slot() *frame.Slot { return s.slot }

// LogBook exposes the log panel's lines.
func (s *Service) LogBook() *LogBook { return s.book }

// Logs returns the log book lines, oldest first.
func (s *Service) Logs() []string { return s.book.Lines() }

// Device returns the configured device.
func (s *Service) Device() capture.DeviceConfig { return s.dev }

// Stats returns the stream counters.
func (s *Service) Stats() stream.Snapshot { return s.sched.Stats() }

// State reports the connection state.
func (s *Service) State() capture.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() capture.State {
	switch {
	case s.session == nil:
		return capture.Disconnected
	case s.sched.Running():
		return capture.Streaming
	}
	return capture.Connected
}

func (s *Service) current() capture.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) note(msg string, args ...any) {
	s.log.Info(msg, args...)
	s.book.Add(msg)
}

func (s *Service) fail(op string, err error) {
	s.log.Error(op+" failed", "err", err)
	s.book.Add(fmt.Sprintf("%s failed: %v", op, err))
}

// Connect opens the session. It fails fast if one is already open.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		err := &capture.ConnectError{Kind: capture.DeviceBusy, Device: s.dev.ID(), Err: ErrAlreadyConnected}
		s.fail("connect", err)
		return err
	}

	s.book.Add("Attempting to connect microscope...")
	sess, err := s.driver.Open(ctx, s.dev)
	if err != nil {
		s.fail("connect", err)
		return err
	}
	s.session = sess
	s.note("Microscope connected", "device", s.dev.ID(), "resolution", s.dev.Resolution())
	return nil
}

// Disconnect stops streaming and releases the session. Calling it while
// disconnected does nothing.
func (s *Service) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	if s.sched.Stop() {
		s.book.Add("Video streaming stopped")
	}
	err := s.session.Disconnect()
	s.session = nil
	if err != nil {
		s.fail("disconnect", err)
		return err
	}
	s.note("Microscope disconnected")
	return nil
}

// StartStreaming moves Connected to Streaming. Without a session it is a
// no-op returning false.
func (s *Service) StartStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		s.book.Add("Cannot start streaming: microscope not connected")
		return false
	}
	if s.sched.Start(s.session) {
		s.note("Video streaming started")
	}
	return true
}

// StopStreaming moves Streaming to Connected. It always succeeds.
func (s *Service) StopStreaming() bool {
	if s.sched.Stop() {
		s.note("Video streaming stopped")
	}
	return true
}

// IsStreaming reports whether the scheduler is running.
func (s *Service) IsStreaming() bool {
	return s.sched.Running()
}

// Tick is the host loop's entry point. A fatal capture error stops
// streaming; transient ones leave it running.
func (s *Service) Tick(ctx context.Context) error {
	err := s.sched.Tick(ctx)
	if err == nil {
		return nil
	}
	s.fail("capture", err)
	if capture.IsFatal(err) && s.sched.Stop() {
		s.note("Video streaming stopped after fatal capture error")
	}
	return err
}

// Pump calls Tick at the stream interval until ctx is done.
func (s *Service) Pump(ctx context.Context) {
	ticker := time.NewTicker(s.sched.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Tick(ctx)
		}
	}
}

// CheckDevice reports the session, or probes the bus when disconnected.
func (s *Service) CheckDevice(ctx context.Context) Status {
	st := Status{Resolution: s.dev.Resolution(), FPS: float64(s.dev.FPS)}

	s.mu.Lock()
	state := s.stateLocked()
	s.mu.Unlock()
	st.State = state.String()

	if state != capture.Disconnected {
		st.Connected = true
		st.ID = s.dev.ID()
		if state == capture.Streaming {
			if fps := s.sched.Stats().FPS; fps > 0 {
				st.FPS = fps
			}
		}
		return st
	}

	prober, ok := s.driver.(capture.Prober)
	if !ok {
		return st
	}
	present, err := prober.Probe(ctx, s.dev)
	if err != nil {
		s.fail("check device", err)
		st.Error = err.Error()
		return st
	}
	if present {
		st.Connected = true
		st.ID = s.dev.ID()
	}
	return st
}

// GetLiveFrame returns the latest frame as base64 JPEG. While streaming it
// polls the scheduler; otherwise it performs a single read.
func (s *Service) GetLiveFrame(ctx context.Context) LiveFrame {
	sess := s.current()
	if sess == nil {
		return LiveFrame{Error: capture.ErrNotConnected.Error()}
	}

	if s.sched.Running() {
		if err := s.Tick(ctx); err != nil {
			return LiveFrame{Error: reason(err)}
		}
	} else {
		f, err := sess.ReadFrame(ctx)
		if err != nil {
			s.fail("live frame", err)
			return LiveFrame{Error: reason(err)}
		}
		s.slot.Publish(f)
	}

	f, _, ok := s.slot.Snapshot()
	if !ok {
		return LiveFrame{Error: "no frame available yet"}
	}
	img, err := f.RGBA()
	if err != nil {
		s.fail("live frame", err)
		return LiveFrame{Error: err.Error()}
	}
	data, err := s.live.Encode(img)
	if err != nil {
		s.fail("live frame", err)
		return LiveFrame{Error: err.Error()}
	}
	return LiveFrame{
		Success:     true,
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		TimestampMs: f.TimestampMillis(),
	}
}

// CaptureImage takes a high-quality capture and saves it under a
// timestamped name in the output directory.
func (s *Service) CaptureImage(ctx context.Context) CaptureResult {
	return s.CaptureImageTo(ctx, "")
}

// CaptureImageTo takes a high-quality capture and saves it once, to dest.
// An empty dest picks a timestamped name in the output directory; any
// other dest is an operator supplied path and may be absolute.
func (s *Service) CaptureImageTo(ctx context.Context, dest string) CaptureResult {
	sess := s.current()
	if sess == nil {
		return CaptureResult{Error: capture.ErrNotConnected.Error()}
	}
	s.book.Add("Capturing high-quality image")

	var (
		f   *frame.Frame
		err error
	)
	if still, ok := sess.(capture.StillCapturer); ok {
		f, err = still.CaptureStill(ctx)
	} else {
		f, err = sess.ReadFrame(ctx)
	}
	if err != nil {
		s.fail("capture image", err)
		return CaptureResult{Error: reason(err)}
	}
	s.slot.Publish(f)

	write := s.gate.WriteTo
	if dest == "" {
		dest = persist.DefaultName(s.now(), ".jpg")
		write = s.gate.WriteFile
	}
	data, err := s.gate.Encode(f, s.gate.Resolve(dest))
	if err != nil {
		s.fail("capture image", err)
		return CaptureResult{Error: err.Error()}
	}
	path, err := write(dest, data)
	if err != nil {
		s.fail("capture image", err)
		return CaptureResult{Error: err.Error()}
	}
	s.note("Image saved: "+path, "path", path)
	return CaptureResult{
		Success:     true,
		Path:        path,
		ImageBase64: base64.StdEncoding.EncodeToString(data),
	}
}

// SaveFrame writes the current slot frame to dest, or to a timestamped
// name when dest is empty.
func (s *Service) SaveFrame(dest string) (string, error) {
	if dest == "" {
		dest = persist.DefaultName(s.now(), ".jpg")
	}
	f, _, _ := s.slot.Snapshot()
	path, err := s.gate.Save(f, dest)
	if err != nil {
		s.fail("save frame", err)
		return "", err
	}
	s.note("Image saved: " + path)
	return path, nil
}

// SaveImage decodes a base64 image and writes it as filename, a local name
// inside the output directory.
func (s *Service) SaveImage(b64, filename string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		err = fmt.Errorf("save image: invalid base64: %w", err)
		s.fail("save image", err)
		return "", err
	}
	if filename == "" {
		filename = persist.DefaultName(s.now(), ".jpg")
	}
	path, err := s.gate.WriteFile(filename, data)
	if err != nil {
		s.fail("save image", err)
		return "", err
	}
	s.note("Image saved: " + path)
	return path, nil
}

// SaveLog writes text as filename, a local name inside the output
// directory. Empty text saves the log book.
func (s *Service) SaveLog(text, filename string) (string, error) {
	if text == "" {
		text = s.book.String()
	}
	if filename == "" {
		filename = "microscope_log_" + s.now().Format("20060102_150405") + ".txt"
	}
	path, err := s.gate.WriteFile(filename, []byte(text))
	if err != nil {
		s.fail("save log", err)
		return "", err
	}
	s.note("Log saved: " + path)
	return path, nil
}

// SelfTest runs the driver's environment check if it has one.
func (s *Service) SelfTest(ctx context.Context) (string, error) {
	t, ok := s.driver.(capture.Tester)
	if !ok {
		return "", errors.New("self test not supported by this driver")
	}
	out, err := t.SelfTest(ctx)
	if err != nil {
		s.fail("self test", err)
		return "", err
	}
	s.note("Test successful: " + out)
	return out, nil
}

// reason returns the message meant for the user: the script's own words
// for capture errors, the full chain otherwise.
func reason(err error) string {
	var ce *capture.CaptureError
	if errors.As(err, &ce) && ce.Msg != "" {
		return ce.Msg
	}
	return err.Error()
}
