package peer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/microscope/internal/encoder"
	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/microscope"
	"github.com/junsooki/microscope/internal/transport"
)

// Answerer is the signaling side a Publisher replies through.
type Answerer interface {
	SendAnswer(payload json.RawMessage) error
	SendICECandidate(payload json.RawMessage) error
}

// Commands is the part of the microscope service a remote viewer drives.
type Commands interface {
	StartStreaming() bool
	StopStreaming() bool
	IsStreaming() bool
	CaptureImage(ctx context.Context) microscope.CaptureResult
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	ICEServers []webrtc.ICEServer
	Quality    int
	Interval   time.Duration
	Log        *slog.Logger
}

// Publisher answers a remote viewer's offer and pushes slot frames to it.
type Publisher struct {
	pc        *webrtc.PeerConnection
	sig       Answerer
	transport *transport.DataChannelTransport
	slot      *frame.Slot
	enc       *encoder.JPEGEncoder
	cmds      Commands
	interval  time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	answered bool
	pending  []json.RawMessage
	early    []webrtc.ICECandidateInit

	done      chan struct{}
	closeOnce sync.Once
}

// NewPublisher creates the host side of a viewing session.
func NewPublisher(sig Answerer, slot *frame.Slot, cmds Commands, opts PublisherOptions) (*Publisher, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Quality == 0 {
		opts.Quality = 80
	}
	if opts.Interval <= 0 {
		opts.Interval = 33 * time.Millisecond
	}
	pc, err := NewPeerConnection(opts.ICEServers, opts.Log)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		pc:        pc,
		sig:       sig,
		transport: transport.NewDataChannelTransport(nil, nil, opts.Log),
		slot:      slot,
		enc:       encoder.NewJPEGEncoder(opts.Quality),
		cmds:      cmds,
		interval:  opts.Interval,
		log:       opts.Log,
		done:      make(chan struct{}),
	}
	p.transport.OnControl(p.onControl)

	// The viewer is the offerer and creates both channels.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.log.Info("data channel received", "label", dc.Label())
		switch dc.Label() {
		case transport.LabelFrames:
			p.transport.SetFramesChannel(dc)
		case transport.LabelControl:
			p.transport.SetControlChannel(dc)
		default:
			p.log.Warn("unknown data channel", "label", dc.Label())
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.log.Error("marshal ICE candidate", "err", err)
			return
		}
		p.sendCandidate(data)
	})

	return p, nil
}

// Transport returns the DataChannelTransport.
func (p *Publisher) Transport() *transport.DataChannelTransport {
	return p.transport
}

// HandleOffer answers the viewer's offer.
func (p *Publisher) HandleOffer(payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return err
	}
	p.mu.Lock()
	err := p.pc.SetRemoteDescription(offer)
	early := p.early
	p.early = nil
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range early {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn("add ICE candidate", "err", err)
		}
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	if err := p.sig.SendAnswer(answerJSON); err != nil {
		return err
	}
	p.flushCandidates()
	return nil
}

// HandleICECandidate adds a remote ICE candidate.
func (p *Publisher) HandleICECandidate(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return err
	}
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.early = append(p.early, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(candidate)
}

// Candidates gathered before the answer went out are held back so the
// viewer never sees them ahead of the description.
func (p *Publisher) sendCandidate(data json.RawMessage) {
	p.mu.Lock()
	if !p.answered {
		p.pending = append(p.pending, data)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	if err := p.sig.SendICECandidate(data); err != nil {
		p.log.Warn("send ICE candidate", "err", err)
	}
}

func (p *Publisher) flushCandidates() {
	p.mu.Lock()
	p.answered = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.sig.SendICECandidate(c); err != nil {
			p.log.Warn("send ICE candidate", "err", err)
		}
	}
}

// Run pushes each new slot frame to the viewer until ctx is done or the
// publisher is closed. Frames are sampled, so a slow link only drops
// intermediate frames.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
		}
		if !p.transport.FramesOpen() {
			continue
		}
		f, seq, ok := p.slot.Snapshot()
		if !ok || seq == sent {
			continue
		}
		if err := p.push(f); err != nil {
			p.log.Debug("push frame", "err", err)
			continue
		}
		sent = seq
	}
}

func (p *Publisher) push(f *frame.Frame) error {
	img, err := f.RGBA()
	if err != nil {
		return err
	}
	data, err := p.enc.Encode(img)
	if err != nil {
		return err
	}
	return p.transport.SendFrame(data)
}

func (p *Publisher) onControl(msg transport.Control) {
	reply := p.dispatch(context.Background(), msg)
	if err := p.transport.SendControl(reply); err != nil {
		p.log.Warn("send control reply", "command", msg.Command, "err", err)
	}
}

func (p *Publisher) dispatch(ctx context.Context, msg transport.Control) transport.Control {
	reply := transport.Control{Command: msg.Command}
	switch msg.Command {
	case transport.CommandStart:
		reply.Success = p.cmds.StartStreaming()
		if !reply.Success {
			reply.Error = "microscope not connected"
		}
	case transport.CommandStop:
		reply.Success = p.cmds.StopStreaming()
	case transport.CommandCapture:
		res := p.cmds.CaptureImage(ctx)
		reply.Success = res.Success
		reply.Path = res.Path
		reply.Error = res.Error
	case transport.CommandStatus:
		reply.Success = true
	default:
		reply.Error = "unknown command: " + msg.Command
		return reply
	}
	reply.Streaming = p.cmds.IsStreaming()
	return reply
}

// Close shuts down the peer connection.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if err := p.pc.Close(); err != nil {
			p.log.Warn("close peer connection", "err", err)
		}
	})
}
