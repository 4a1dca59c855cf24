package cmd

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/junsooki/microscope/internal/decoder"
	"github.com/junsooki/microscope/internal/display"
	"github.com/junsooki/microscope/internal/log"
	"github.com/junsooki/microscope/internal/peer"
	"github.com/junsooki/microscope/internal/signaling"
	"github.com/junsooki/microscope/internal/transport"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Watch a microscope served by another machine",
	Long: `Connect to a host running "microscope serve" or "microscope run" over
WebRTC. Frames arrive on an unreliable data channel; stream and capture
commands travel on a reliable one.`,
	RunE: runView,
}

func init() {
	viewCmd.Flags().String("url", "ws://localhost:8080/ws/signal", "signaling endpoint of the host")
	rootCmd.AddCommand(viewCmd)
}

// remoteState is what the viewer knows about the host from control replies.
type remoteState struct {
	mu        sync.Mutex
	connected bool
	streaming bool
	last      string
}

func (r *remoteState) apply(msg transport.Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = msg.Streaming
	switch {
	case msg.Error != "":
		r.last = msg.Command + ": " + msg.Error
	case msg.Path != "":
		r.last = "saved " + msg.Path
	default:
		r.last = msg.Command + ": ok"
	}
}

func (r *remoteState) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "negotiating"
	if r.connected {
		state = "connected"
	}
	lines := []string{fmt.Sprintf("remote %s  streaming %t", state, r.streaming)}
	if r.last != "" {
		lines = append(lines, r.last)
	}
	return lines
}

func runView(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	logger := log.Component("view")
	id := uuid.NewString()

	var (
		holder display.Holder
		state  remoteState
		dec    = decoder.NewImageDecoder()
		viewer atomic.Pointer[peer.Viewer]
		sig    *signaling.Client
	)

	sig = signaling.NewClient(url, id, signaling.Handler{
		OnRegistered: func() {
			logger.Info("registered with host", "id", id)
			vp, err := peer.NewViewer(sig, nil, logger)
			if err != nil {
				logger.Error("create viewer peer", "err", err)
				sig.Close()
				return
			}
			viewer.Store(vp)
			vp.Transport().OnFrame(func(data []byte) {
				img, err := dec.Decode(data)
				if err != nil {
					logger.Debug("drop undecodable frame", "err", err)
					return
				}
				holder.SetFrame(img)
			})
			vp.Transport().OnControl(state.apply)
			if err := vp.Connect(); err != nil {
				logger.Error("viewer connect", "err", err)
			}
		},
		OnAnswer: func(payload json.RawMessage) {
			vp := viewer.Load()
			if vp == nil {
				return
			}
			if err := vp.HandleAnswer(payload); err != nil {
				logger.Error("handle answer", "err", err)
				return
			}
			state.mu.Lock()
			state.connected = true
			state.mu.Unlock()
		},
		OnICECandidate: func(payload json.RawMessage) {
			vp := viewer.Load()
			if vp == nil {
				return
			}
			if err := vp.HandleICECandidate(payload); err != nil {
				logger.Warn("handle ICE candidate", "err", err)
			}
		},
		OnError: func(msg string) {
			logger.Error("signaling error", "message", msg)
		},
	}, logger)

	if err := sig.Connect(cmd.Context()); err != nil {
		return err
	}
	defer sig.Close()

	send := func(command string) {
		vp := viewer.Load()
		if vp == nil {
			return
		}
		if err := vp.Transport().SendControl(transport.Control{Command: command}); err != nil {
			logger.Warn("send control", "command", command, "err", err)
		}
	}

	disp := display.NewEbitenDisplay(&holder, display.Options{
		Title: "Microscope (remote)",
		OnAction: func(a display.Action) {
			switch a {
			case display.ActionToggleStream:
				state.mu.Lock()
				streaming := state.streaming
				state.mu.Unlock()
				if streaming {
					send(transport.CommandStop)
				} else {
					send(transport.CommandStart)
				}
			case display.ActionCapture:
				send(transport.CommandCapture)
			default:
				logger.Info("action not available remotely", "action", a.String())
			}
		},
		Status: state.lines,
	})

	// Ebitengine RunGame must be on the main goroutine (macOS requirement).
	err := disp.Run()
	if vp := viewer.Load(); vp != nil {
		vp.Close()
	}
	return err
}
