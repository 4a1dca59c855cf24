// Package capture defines the capture session contract shared by the
// in-process device driver and the delegated bridge driver.
package capture

import (
	"context"
	"fmt"

	"github.com/junsooki/microscope/internal/frame"
)

// DeviceConfig identifies the microscope and the capture settings to apply.
// It is fixed when a session is opened.
type DeviceConfig struct {
	VendorID  uint16
	ProductID uint16
	Index     int
	Width     int
	Height    int
	FPS       int
}

// ID returns the USB id as vvvv:pppp.
func (c DeviceConfig) ID() string {
	return fmt.Sprintf("%04x:%04x", c.VendorID, c.ProductID)
}

// Resolution returns the requested size as WxH.
func (c DeviceConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// Session is an open capture channel.
type Session interface {
	// ReadFrame performs exactly one capture. It never retries.
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	// Disconnect releases the channel. Safe to call more than once.
	Disconnect() error
}

// Driver opens sessions against a device.
type Driver interface {
	Open(ctx context.Context, cfg DeviceConfig) (Session, error)
}

// Prober reports whether the device is present without opening a session.
type Prober interface {
	Probe(ctx context.Context, cfg DeviceConfig) (bool, error)
}

// StillCapturer is implemented by sessions that have a dedicated
// high-quality capture path.
type StillCapturer interface {
	CaptureStill(ctx context.Context) (*frame.Frame, error)
}

// Tester is implemented by drivers that can check their execution
// environment.
type Tester interface {
	SelfTest(ctx context.Context) (string, error)
}

// State is the connection state of the microscope.
type State int

const (
	Disconnected State = iota
	Connected
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
