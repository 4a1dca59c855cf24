// Package device opens the microscope in-process through OpenCV.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/frame"
)

var (
	_ capture.Driver        = (*Driver)(nil)
	_ capture.Prober        = (*Driver)(nil)
	_ capture.StillCapturer = (*Session)(nil)
)

// Driver opens gocv capture sessions.
type Driver struct {
	warmup int
	log    *slog.Logger
}

// NewDriver creates a driver that discards warmup frames after opening.
func NewDriver(warmup int, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{warmup: warmup, log: logger}
}

// Probe opens and immediately releases the device index.
func (d *Driver) Probe(ctx context.Context, cfg capture.DeviceConfig) (bool, error) {
	vc, err := gocv.VideoCaptureDevice(cfg.Index)
	if vc != nil {
		defer vc.Close()
	}
	if err != nil {
		return false, nil
	}
	return vc.IsOpened(), nil
}

// Open claims the index, opens the device and applies the requested mode.
func (d *Driver) Open(ctx context.Context, cfg capture.DeviceConfig) (capture.Session, error) {
	release, err := capture.Claim(cfg)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureDevice(cfg.Index)
	if err != nil || !vc.IsOpened() {
		if vc != nil {
			vc.Close()
		}
		release()
		if err == nil {
			err = fmt.Errorf("cannot open /dev/video%d", cfg.Index)
		}
		return nil, &capture.ConnectError{Kind: capture.DeviceUnavailable, Device: cfg.ID(), Err: err}
	}

	if err := apply(vc, cfg); err != nil {
		vc.Close()
		release()
		return nil, &capture.ConnectError{Kind: capture.ConfigRejected, Device: cfg.ID(), Err: err}
	}

	s := &Session{vc: vc, mat: gocv.NewMat(), cfg: cfg, release: release, log: d.log}
	for i := 0; i < d.warmup; i++ {
		vc.Grab(1)
	}

	d.log.Info("device opened", "device", cfg.ID(), "index", cfg.Index,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS))
	return s, nil
}

func apply(vc *gocv.VideoCapture, cfg capture.DeviceConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return fmt.Errorf("invalid mode %s@%d", cfg.Resolution(), cfg.FPS)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	// Drivers snap to the nearest supported mode; only a zero size means
	// the request was refused outright.
	if vc.Get(gocv.VideoCaptureFrameWidth) <= 0 || vc.Get(gocv.VideoCaptureFrameHeight) <= 0 {
		return errors.New("device refused the requested resolution")
	}
	return nil
}

// Session owns an open VideoCapture. Reads and Disconnect are serialized.
type Session struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	mat     gocv.Mat
	cfg     capture.DeviceConfig
	release func()
	closed  bool
	log     *slog.Logger
}

// ReadFrame grabs one frame. An empty read is reported as NoData.
func (s *Session) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	return s.read("capture live")
}

// CaptureStill reads a fresh frame, dropping the one buffered in the driver.
func (s *Session) CaptureStill(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	if !s.closed {
		s.vc.Grab(1)
	}
	s.mu.Unlock()
	return s.read("capture still")
}

func (s *Session) read(op string) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &capture.CaptureError{Kind: capture.KindFatal, Op: op, Err: capture.ErrNotConnected}
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, capture.NoData(op, "camera returned no frame")
	}

	layout, err := layoutOf(s.mat)
	if err != nil {
		return nil, &capture.CaptureError{Kind: capture.KindProtocol, Op: op, Err: err}
	}
	f, err := frame.New(s.mat.ToBytes(), s.mat.Cols(), s.mat.Rows(), layout, time.Now())
	if err != nil {
		return nil, &capture.CaptureError{Kind: capture.KindProtocol, Op: op, Err: err}
	}
	return f, nil
}

func layoutOf(m gocv.Mat) (frame.Layout, error) {
	switch m.Type() {
	case gocv.MatTypeCV8UC3:
		return frame.LayoutBGR, nil
	case gocv.MatTypeCV8UC4:
		return frame.LayoutBGRA, nil
	case gocv.MatTypeCV8UC1:
		return frame.LayoutGray, nil
	}
	return 0, fmt.Errorf("unsupported mat type %v", m.Type())
}

// Disconnect closes the device. Safe to call more than once.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	err := s.vc.Close()
	s.release()
	s.log.Info("device closed", "device", s.cfg.ID())
	return err
}
