package transport

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	_ FrameSender     = (*DataChannelTransport)(nil)
	_ FrameReceiver   = (*DataChannelTransport)(nil)
	_ ControlSender   = (*DataChannelTransport)(nil)
	_ ControlReceiver = (*DataChannelTransport)(nil)
)

// Channel labels.
const (
	LabelFrames  = "frames"
	LabelControl = "control"
)

// ErrChannelNotOpen is returned when sending before the channel is open.
var ErrChannelNotOpen = errors.New("data channel not open")

// DataChannelTransport carries frames and control messages over WebRTC
// DataChannels.
type DataChannelTransport struct {
	log *slog.Logger

	mu        sync.RWMutex
	framesDC  *webrtc.DataChannel
	controlDC *webrtc.DataChannel
	onFrame   func(data []byte)
	onControl func(msg Control)
}

// NewDataChannelTransport wraps the two channels. Either may be nil and
// set later when the remote side opens it.
func NewDataChannelTransport(framesDC, controlDC *webrtc.DataChannel, logger *slog.Logger) *DataChannelTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &DataChannelTransport{log: logger}
	if framesDC != nil {
		t.SetFramesChannel(framesDC)
	}
	if controlDC != nil {
		t.SetControlChannel(controlDC)
	}
	return t
}

// FramesOptions configures the frames channel: stale frames are worth
// nothing, so no ordering and no retransmits.
func FramesOptions() *webrtc.DataChannelInit {
	ordered := false
	retransmits := uint16(0)
	return &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &retransmits}
}

// ControlOptions configures the reliable, ordered control channel.
func ControlOptions() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

func (t *DataChannelTransport) SendFrame(data []byte) error {
	t.mu.RLock()
	dc := t.framesDC
	t.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (t *DataChannelTransport) SendControl(msg Control) error {
	t.mu.RLock()
	dc := t.controlDC
	t.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	data, err := EncodeControl(msg)
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// FramesOpen reports whether frames can be sent.
func (t *DataChannelTransport) FramesOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.framesDC != nil && t.framesDC.ReadyState() == webrtc.DataChannelStateOpen
}

func (t *DataChannelTransport) OnFrame(cb func(data []byte)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}

func (t *DataChannelTransport) OnControl(cb func(msg Control)) {
	t.mu.Lock()
	t.onControl = cb
	t.mu.Unlock()
}

// SetFramesChannel sets or replaces the frames DataChannel.
func (t *DataChannelTransport) SetFramesChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.framesDC = dc
	t.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.RLock()
		cb := t.onFrame
		t.mu.RUnlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}

// SetControlChannel sets or replaces the control DataChannel.
func (t *DataChannelTransport) SetControlChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.controlDC = dc
	t.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.RLock()
		cb := t.onControl
		t.mu.RUnlock()
		if cb == nil {
			return
		}
		ctl, err := DecodeControl(msg.Data)
		if err != nil {
			t.log.Warn("dropping control message", "err", err)
			return
		}
		cb(ctl)
	})
}
