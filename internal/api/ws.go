package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/junsooki/microscope/internal/peer"
	"github.com/junsooki/microscope/internal/signaling"
)

// signalConn serializes writes to one signaling socket and satisfies
// peer.Answerer.
type signalConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (sc *signalConn) send(msg signaling.Message) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.c.WriteJSON(msg)
}

func (sc *signalConn) SendAnswer(payload json.RawMessage) error {
	return sc.send(signaling.Message{Type: signaling.TypeAnswer, Payload: payload})
}

func (sc *signalConn) SendICECandidate(payload json.RawMessage) error {
	return sc.send(signaling.Message{Type: signaling.TypeICECandidate, Payload: payload})
}

func (s *Server) handleSignal(c *websocket.Conn) {
	conn := &signalConn{c: c}
	ctx, cancel := context.WithCancel(context.Background())
	var (
		pub *peer.Publisher
		id  string
	)
	defer func() {
		cancel()
		if pub != nil {
			s.dropPublisher(pub)
		}
	}()

	for {
		var msg signaling.Message
		if err := c.ReadJSON(&msg); err != nil {
			s.log.Debug("signaling socket closed", "viewer", id, "err", err)
			return
		}

		switch msg.Type {
		case signaling.TypeRegister:
			id = msg.ID
			if id == "" {
				id = uuid.NewString()
			}
			s.log.Info("viewer registered", "viewer", id)
			_ = conn.send(signaling.Message{Type: signaling.TypeRegistered, ID: id})

		case signaling.TypeOffer:
			next, err := peer.NewPublisher(conn, s.svc.Slot(), s.svc, peer.PublisherOptions{
				ICEServers: s.opts.ICEServers,
				Quality:    s.opts.LiveQuality,
				Interval:   s.opts.Interval,
				Log:        s.log.With("component", "publisher", "viewer", id),
			})
			if err != nil {
				s.log.Error("create publisher", "err", err)
				_ = conn.send(signaling.Error("create peer: " + err.Error()))
				continue
			}
			if err := next.HandleOffer(msg.Payload); err != nil {
				s.log.Error("handle offer", "err", err)
				next.Close()
				_ = conn.send(signaling.Error("handle offer: " + err.Error()))
				continue
			}
			if pub != nil {
				s.dropPublisher(pub)
			}
			pub = next
			s.setPublisher(pub)
			go pub.Run(ctx)
			s.svc.LogBook().Add("Remote viewer connected")

		case signaling.TypeICECandidate:
			if pub == nil {
				continue
			}
			if err := pub.HandleICECandidate(msg.Payload); err != nil {
				s.log.Warn("handle ICE candidate", "err", err)
			}

		case signaling.TypePing:
			_ = conn.send(signaling.Message{Type: signaling.TypePong, Timestamp: msg.Timestamp})

		default:
			_ = conn.send(signaling.Error("unknown message type: " + msg.Type))
		}
	}
}

// setPublisher installs p as the single remote viewer, closing any other.
func (s *Server) setPublisher(p *peer.Publisher) {
	s.mu.Lock()
	prev := s.publisher
	s.publisher = p
	s.mu.Unlock()
	if prev != nil && prev != p {
		prev.Close()
		s.log.Info("previous remote viewer replaced")
	}
}

func (s *Server) dropPublisher(p *peer.Publisher) {
	p.Close()
	s.mu.Lock()
	if s.publisher == p {
		s.publisher = nil
	}
	s.mu.Unlock()
}

func (s *Server) handleLogsWS(c *websocket.Conn) {
	lines, unsubscribe := s.svc.LogBook().Subscribe()
	defer unsubscribe()

	for _, line := range s.svc.LogBook().Lines() {
		if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case line := <-lines:
			if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
	}
}
