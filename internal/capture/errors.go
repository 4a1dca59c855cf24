package capture

import (
	"errors"
	"fmt"
)

// ConnectKind classifies connect failures.
type ConnectKind int

const (
	DeviceUnavailable ConnectKind = iota
	ConfigRejected
	DeviceBusy
)

func (k ConnectKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device unavailable"
	case ConfigRejected:
		return "config rejected"
	case DeviceBusy:
		return "device busy"
	}
	return fmt.Sprintf("connect kind(%d)", int(k))
}

// ConnectError is returned when a session cannot be opened. It is fatal to
// the attempt; the user has to retry.
type ConnectError struct {
	Kind   ConnectKind
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("connect %s: %s", e.Device, e.Kind)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Kind classifies capture failures.
type Kind int

const (
	// KindNoData means the read returned no frame.
	KindNoData Kind = iota
	// KindUnavailable means the camera was busy or did not answer.
	KindUnavailable
	// KindProtocol means the response could not be decoded.
	KindProtocol
	// KindBusy means another request already holds the device.
	KindBusy
	// KindFatal means the capture environment is broken.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "no data"
	case KindUnavailable:
		return "unavailable"
	case KindProtocol:
		return "protocol error"
	case KindBusy:
		return "busy"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CaptureError is returned by a single failed read.
type CaptureError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *CaptureError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Transient reports whether streaming should continue after the error.
func (e *CaptureError) Transient() bool {
	return e.Kind != KindFatal
}

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("microscope not connected")

// KindOf returns the capture kind of err and whether err is a CaptureError.
func KindOf(err error) (Kind, bool) {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err is a capture error that is not transient.
func IsFatal(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && !ce.Transient()
}

// NoData builds a KindNoData error for op.
func NoData(op, msg string) error {
	return &CaptureError{Kind: KindNoData, Op: op, Msg: msg}
}

// Busy builds the rejection returned to overlapping requests.
func Busy(op string) error {
	return &CaptureError{Kind: KindBusy, Op: op, Msg: "device busy"}
}
