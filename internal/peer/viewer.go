package peer

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/microscope/internal/transport"
)

// Offerer is the signaling side a Viewer negotiates through.
type Offerer interface {
	SendOffer(payload json.RawMessage) error
	SendICECandidate(payload json.RawMessage) error
}

// Viewer is the remote side: it offers, owns both data channels and
// receives frames.
type Viewer struct {
	pc        *webrtc.PeerConnection
	sig       Offerer
	transport *transport.DataChannelTransport
	log       *slog.Logger

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

// NewViewer creates a Viewer peer manager.
func NewViewer(sig Offerer, servers []webrtc.ICEServer, logger *slog.Logger) (*Viewer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := NewPeerConnection(servers, logger)
	if err != nil {
		return nil, err
	}

	framesDC, err := pc.CreateDataChannel(transport.LabelFrames, transport.FramesOptions())
	if err != nil {
		pc.Close()
		return nil, err
	}
	controlDC, err := pc.CreateDataChannel(transport.LabelControl, transport.ControlOptions())
	if err != nil {
		pc.Close()
		return nil, err
	}
	framesDC.OnOpen(func() { logger.Info("frames data channel open") })
	controlDC.OnOpen(func() { logger.Info("control data channel open") })

	v := &Viewer{
		pc:        pc,
		sig:       sig,
		transport: transport.NewDataChannelTransport(framesDC, controlDC, logger),
		log:       logger,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Error("marshal ICE candidate", "err", err)
			return
		}
		if err := sig.SendICECandidate(data); err != nil {
			logger.Warn("send ICE candidate", "err", err)
		}
	})

	return v, nil
}

// Transport returns the DataChannelTransport.
func (v *Viewer) Transport() *transport.DataChannelTransport {
	return v.transport
}

// Connect creates and sends the offer.
func (v *Viewer) Connect() error {
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return v.sig.SendOffer(offerJSON)
}

// HandleAnswer applies the host's answer and any candidates that arrived
// before it.
func (v *Viewer) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return err
	}
	v.mu.Lock()
	err := v.pc.SetRemoteDescription(answer)
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range pending {
		if err := v.pc.AddICECandidate(c); err != nil {
			v.log.Warn("add ICE candidate", "err", err)
		}
	}
	return nil
}

// HandleICECandidate adds a remote ICE candidate.
func (v *Viewer) HandleICECandidate(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return err
	}
	v.mu.Lock()
	if v.pc.RemoteDescription() == nil {
		v.pending = append(v.pending, candidate)
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()
	return v.pc.AddICECandidate(candidate)
}

// Close shuts down the peer connection.
func (v *Viewer) Close() {
	if v.pc != nil {
		v.pc.Close()
	}
}
