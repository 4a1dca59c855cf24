package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/persist"
)

// SaveImageRequest is the body of POST /api/images.
type SaveImageRequest struct {
	ImageBase64 string `json:"image_base64" form:"image_base64"`
	Filename    string `json:"filename" form:"filename"`
}

// SaveLogRequest is the body of POST /api/logs.
type SaveLogRequest struct {
	Text     string `json:"text" form:"text"`
	Filename string `json:"filename" form:"filename"`
}

func (s *Server) handleDevice(c *fiber.Ctx) error {
	return c.JSON(s.svc.CheckDevice(c.UserContext()))
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	if err := s.svc.Connect(c.UserContext()); err != nil {
		return c.Status(connectStatus(err)).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "state": s.svc.State().String()})
}

func connectStatus(err error) int {
	var ce *capture.ConnectError
	if !errors.As(err, &ce) {
		return fiber.StatusInternalServerError
	}
	switch ce.Kind {
	case capture.DeviceBusy:
		return fiber.StatusConflict
	case capture.ConfigRejected:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusServiceUnavailable
	}
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	if err := s.svc.Disconnect(); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "state": s.svc.State().String()})
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	return c.JSON(s.svc.GetLiveFrame(c.UserContext()))
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	return c.JSON(s.svc.CaptureImage(c.UserContext()))
}

func (s *Server) handleStreamState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"streaming": s.svc.IsStreaming(),
		"stats":     s.svc.Stats(),
	})
}

func (s *Server) handleStreamStart(c *fiber.Ctx) error {
	if !s.svc.StartStreaming() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   capture.ErrNotConnected.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "streaming": true})
}

func (s *Server) handleStreamStop(c *fiber.Ctx) error {
	s.svc.StopStreaming()
	return c.JSON(fiber.Map{"success": true, "streaming": false})
}

func (s *Server) handleSaveImage(c *fiber.Ctx) error {
	var req SaveImageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ImageBase64 == "" {
		return fiber.NewError(fiber.StatusBadRequest, "image_base64 is required")
	}
	path, err := s.svc.SaveImage(req.ImageBase64, req.Filename)
	if err != nil {
		return saveError(err)
	}
	return c.JSON(fiber.Map{"success": true, "path": path})
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"lines": s.svc.Logs()})
}

func (s *Server) handleSaveLog(c *fiber.Ctx) error {
	var req SaveLogRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	path, err := s.svc.SaveLog(req.Text, req.Filename)
	if err != nil {
		return saveError(err)
	}
	return c.JSON(fiber.Map{"success": true, "path": path})
}

func saveError(err error) error {
	var pe *persist.Error
	if errors.As(err, &pe) && pe.Kind != persist.InvalidName {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

func (s *Server) handleSelfTest(c *fiber.Ctx) error {
	out, err := s.svc.SelfTest(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "output": out})
}
