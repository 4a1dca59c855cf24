// Package api exposes the microscope command surface over HTTP and
// WebSocket.
package api

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pion/webrtc/v4"

	"github.com/junsooki/microscope/internal/microscope"
	"github.com/junsooki/microscope/internal/peer"
)

// Options configures a Server.
type Options struct {
	// LiveQuality and Interval are used for frames pushed to remote
	// viewers.
	LiveQuality int
	Interval    time.Duration
	ICEServers  []webrtc.ICEServer
	// AllowOrigins is a comma separated CORS allow list. Empty means
	// same-origin only.
	AllowOrigins string
	Log          *slog.Logger
}

// Server serves the HTTP API, the signaling endpoint and the log feed.
type Server struct {
	app  *fiber.App
	svc  *microscope.Service
	opts Options
	log  *slog.Logger

	// One remote viewer at a time.
	mu        sync.Mutex
	publisher *peer.Publisher
}

// NewServer builds the fiber app and registers all routes.
func NewServer(svc *microscope.Service, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{svc: svc, opts: opts, log: opts.Log}

	app := fiber.New(fiber.Config{
		AppName:               "microscope",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	if opts.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{AllowOrigins: opts.AllowOrigins}))
	}

	api := app.Group("/api")
	api.Get("/device", s.handleDevice)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Get("/frame", s.handleFrame)
	api.Post("/capture", s.handleCapture)
	api.Get("/stream", s.handleStreamState)
	api.Post("/stream/start", s.handleStreamStart)
	api.Post("/stream/stop", s.handleStreamStop)
	api.Post("/images", s.handleSaveImage)
	api.Get("/logs", s.handleGetLogs)
	api.Post("/logs", s.handleSaveLog)
	api.Get("/selftest", s.handleSelfTest)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/signal", websocket.New(s.handleSignal))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info("api listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("api listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown closes the remote viewer and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.publisher != nil {
		s.publisher.Close()
		s.publisher = nil
	}
	s.mu.Unlock()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
}
