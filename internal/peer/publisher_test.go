package peer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/log"
	"github.com/junsooki/microscope/internal/microscope"
	"github.com/junsooki/microscope/internal/transport"
)

type recordingSignaler struct {
	mu         sync.Mutex
	answers    []json.RawMessage
	candidates []json.RawMessage
}

func (r *recordingSignaler) SendAnswer(payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, payload)
	return nil
}

func (r *recordingSignaler) SendICECandidate(payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, payload)
	return nil
}

type fakeCommands struct {
	connected bool
	streaming bool
	captures  int
}

func (f *fakeCommands) StartStreaming() bool {
	if !f.connected {
		return false
	}
	f.streaming = true
	return true
}

func (f *fakeCommands) StopStreaming() bool {
	f.streaming = false
	return true
}

func (f *fakeCommands) IsStreaming() bool { return f.streaming }

func (f *fakeCommands) CaptureImage(ctx context.Context) microscope.CaptureResult {
	f.captures++
	if !f.connected {
		return microscope.CaptureResult{Error: "not connected"}
	}
	return microscope.CaptureResult{Success: true, Path: "/tmp/microscope_1.jpg"}
}

func newTestPublisher(t *testing.T, cmds Commands) (*Publisher, *recordingSignaler) {
	t.Helper()
	sig := &recordingSignaler{}
	p, err := NewPublisher(sig, frame.NewSlot(), cmds, PublisherOptions{
		ICEServers: []webrtc.ICEServer{},
		Log:        log.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, sig
}

func TestPublisherDispatch(t *testing.T) {
	cmds := &fakeCommands{}
	p, _ := newTestPublisher(t, cmds)
	ctx := context.Background()

	reply := p.dispatch(ctx, transport.Control{Command: transport.CommandStart})
	assert.False(t, reply.Success)
	assert.Equal(t, "microscope not connected", reply.Error)

	cmds.connected = true
	reply = p.dispatch(ctx, transport.Control{Command: transport.CommandStart})
	assert.True(t, reply.Success)
	assert.True(t, reply.Streaming)

	reply = p.dispatch(ctx, transport.Control{Command: transport.CommandCapture})
	assert.True(t, reply.Success)
	assert.Equal(t, "/tmp/microscope_1.jpg", reply.Path)
	assert.Equal(t, 1, cmds.captures)

	reply = p.dispatch(ctx, transport.Control{Command: transport.CommandStop})
	assert.True(t, reply.Success)
	assert.False(t, reply.Streaming)

	reply = p.dispatch(ctx, transport.Control{Command: "zoom"})
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "unknown command")
}

func TestPublisherHoldsCandidatesUntilAnswer(t *testing.T) {
	p, sig := newTestPublisher(t, &fakeCommands{})

	p.sendCandidate(json.RawMessage(`{"candidate":"a"}`))
	p.sendCandidate(json.RawMessage(`{"candidate":"b"}`))
	assert.Empty(t, sig.candidates)

	p.flushCandidates()
	require.Len(t, sig.candidates, 2)
	assert.JSONEq(t, `{"candidate":"a"}`, string(sig.candidates[0]))

	p.sendCandidate(json.RawMessage(`{"candidate":"c"}`))
	assert.Len(t, sig.candidates, 3)
}

func TestPublisherRejectsBadOffer(t *testing.T) {
	p, sig := newTestPublisher(t, &fakeCommands{})
	assert.Error(t, p.HandleOffer(json.RawMessage(`"nope"`)))
	assert.Empty(t, sig.answers)
}

func TestPublisherRunStopsOnClose(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeCommands{})
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	p.Close()
	<-done
}
