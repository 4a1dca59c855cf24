package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/decoder"
	"github.com/junsooki/microscope/internal/frame"
)

var (
	_ capture.Driver        = (*Driver)(nil)
	_ capture.Prober        = (*Driver)(nil)
	_ capture.Tester        = (*Driver)(nil)
	_ capture.StillCapturer = (*Session)(nil)
)

// Options tune the scripts a Driver generates.
type Options struct {
	TempDir      string
	LiveQuality  int
	StillQuality int
	Warmup       int
	Log          *slog.Logger
}

// Driver opens bridge sessions. All camera I/O happens in the interpreter.
type Driver struct {
	exec Executor
	opts Options
	dec  *decoder.ImageDecoder
}

// NewDriver creates a driver running scripts through exec.
func NewDriver(exec Executor, opts Options) *Driver {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.LiveQuality == 0 {
		opts.LiveQuality = 80
	}
	if opts.StillQuality == 0 {
		opts.StillQuality = 95
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Driver{exec: exec, opts: opts, dec: decoder.NewImageDecoder()}
}

func (d *Driver) params(cfg capture.DeviceConfig, quality int) ScriptParams {
	return ScriptParams{
		Index:    cfg.Index,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FPS:      cfg.FPS,
		Quality:  quality,
		Warmup:   d.opts.Warmup,
		TempFile: filepath.Join(d.opts.TempDir, "microscope_"+uuid.NewString()+".jpg"),
		Vendor:   fmt.Sprintf("%04x", cfg.VendorID),
		Product:  fmt.Sprintf("%04x", cfg.ProductID),
	}
}

// Probe runs the lsusb presence check.
func (d *Driver) Probe(ctx context.Context, cfg capture.DeviceConfig) (bool, error) {
	script, err := ProbeScript(d.params(cfg, 0))
	if err != nil {
		return false, err
	}
	out, err := d.exec.Run(ctx, script)
	if err != nil {
		return false, err
	}
	res, fail := ParseProbe(out)
	if f, ok := fail.(Failure); ok {
		return false, errors.New(f.Message)
	}
	return res.Connected, nil
}

// SelfTest checks that the interpreter starts and prints.
func (d *Driver) SelfTest(ctx context.Context) (string, error) {
	out, err := d.exec.Run(ctx, selfTestScript)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Open claims the device index and verifies the microscope is attached.
func (d *Driver) Open(ctx context.Context, cfg capture.DeviceConfig) (capture.Session, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, &capture.ConnectError{
			Kind:   capture.ConfigRejected,
			Device: cfg.ID(),
			Err:    fmt.Errorf("invalid mode %s@%d", cfg.Resolution(), cfg.FPS),
		}
	}

	release, err := capture.Claim(cfg)
	if err != nil {
		return nil, err
	}

	present, err := d.Probe(ctx, cfg)
	if err != nil {
		release()
		return nil, &capture.ConnectError{Kind: capture.DeviceUnavailable, Device: cfg.ID(), Err: err}
	}
	if !present {
		release()
		return nil, &capture.ConnectError{Kind: capture.DeviceUnavailable, Device: cfg.ID(), Err: errors.New("microscope not found on USB bus")}
	}

	d.opts.Log.Info("bridge session opened", "device", cfg.ID(), "index", cfg.Index)
	return &Session{driver: d, cfg: cfg, release: release}, nil
}

// Session performs one interpreter run per capture. At most one run is in
// flight; overlapping requests are rejected as busy.
type Session struct {
	driver  *Driver
	cfg     capture.DeviceConfig
	release func()

	busy      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// ReadFrame captures one live frame.
func (s *Session) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	const op = "capture live"
	res, err := s.request(ctx, op, s.driver.opts.LiveQuality, LiveScript, ParseLive)
	if err != nil {
		return nil, err
	}
	return s.toFrame(op, res, time.UnixMilli(int64(res.Timestamp)))
}

// CaptureStill captures one high-quality frame.
func (s *Session) CaptureStill(ctx context.Context) (*frame.Frame, error) {
	const op = "capture still"
	res, err := s.request(ctx, op, s.driver.opts.StillQuality, StillScript, ParseStill)
	if err != nil {
		return nil, err
	}
	return s.toFrame(op, res, time.Now())
}

// Disconnect releases the device index.
func (s *Session) Disconnect() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.release()
		s.driver.opts.Log.Info("bridge session closed", "device", s.cfg.ID())
	})
	return nil
}

func (s *Session) request(
	ctx context.Context,
	op string,
	quality int,
	script func(ScriptParams) (string, error),
	parse func(string) Result,
) (Success, error) {
	if s.closed.Load() {
		return Success{}, &capture.CaptureError{Kind: capture.KindFatal, Op: op, Err: capture.ErrNotConnected}
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Success{}, capture.Busy(op)
	}
	defer s.busy.Store(false)

	p := s.driver.params(s.cfg, quality)
	// The script removes its temp file; this covers scripts that die early.
	defer os.Remove(p.TempFile)

	body, err := script(p)
	if err != nil {
		return Success{}, &capture.CaptureError{Kind: capture.KindFatal, Op: op, Err: err}
	}

	out, err := s.driver.exec.Run(ctx, body)
	if err != nil {
		return Success{}, classifyExec(op, err)
	}

	switch r := parse(out).(type) {
	case Success:
		return r, nil
	case Failure:
		kind := capture.KindUnavailable
		if r.Kind == Protocol {
			kind = capture.KindProtocol
		}
		return Success{}, &capture.CaptureError{Kind: kind, Op: op, Msg: r.Message}
	default:
		return Success{}, &capture.CaptureError{Kind: capture.KindProtocol, Op: op, Msg: DefaultMessage}
	}
}

func (s *Session) toFrame(op string, res Success, ts time.Time) (*frame.Frame, error) {
	img, _, err := s.driver.dec.DecodeBase64(res.Payload)
	if err != nil {
		msg := "invalid image payload"
		if errors.Is(err, decoder.ErrInvalidBase64) {
			msg = "invalid base64 payload"
		}
		return nil, &capture.CaptureError{Kind: capture.KindProtocol, Op: op, Msg: msg, Err: err}
	}
	return frame.FromImage(img, ts)
}

func classifyExec(op string, err error) error {
	var ee *ExecError
	if errors.As(err, &ee) && ee.Kind == Spawn {
		return &capture.CaptureError{Kind: capture.KindFatal, Op: op, Err: err}
	}
	return &capture.CaptureError{Kind: capture.KindUnavailable, Op: op, Msg: DefaultMessage, Err: err}
}
