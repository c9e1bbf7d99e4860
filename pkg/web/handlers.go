package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-camwatch/pkg/camera"
	"github.com/teslashibe/go-camwatch/pkg/hub"
	"github.com/teslashibe/go-camwatch/pkg/motion"
	"github.com/teslashibe/go-camwatch/pkg/session"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	UptimeSec int64          `json:"uptime_sec"`
	Capture   session.Stats  `json:"capture"`
	Detector  *motion.Stats  `json:"detector,omitempty"`
	Events    *hub.Stats     `json:"events,omitempty"`
	Config    *camera.Config `json:"config,omitempty"`
}

// handleStatus returns capture, detector and event counters
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		UptimeSec: int64(time.Since(s.started) / time.Second),
		Capture:   s.deps.Capture.Stats(),
	}
	if s.deps.Detector != nil {
		st := s.deps.Detector.Stats()
		resp.Detector = &st
	}
	if s.deps.Events != nil {
		st := s.deps.Events.Stats()
		resp.Events = &st
	}
	if s.deps.Config != nil {
		cfg := s.deps.Config.GetConfig()
		resp.Config = &cfg
	}
	return c.JSON(resp)
}

// handleDevices lists capture devices
func (s *Server) handleDevices(c *fiber.Ctx) error {
	devs, err := s.deps.Capture.ListDevices()
	if err != nil {
		return err
	}
	if devs == nil {
		devs = []session.DeviceInfo{}
	}
	return c.JSON(fiber.Map{"devices": devs})
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	if s.deps.Config == nil {
		return fiber.NewError(fiber.StatusNotFound, "runtime config not available")
	}
	return c.JSON(s.deps.Config.GetConfigJSON())
}

// handleSetConfig applies a partial update, optionally starting from a
// preset: {"preset": "sensitive", "fps": 2}
func (s *Server) handleSetConfig(c *fiber.Ctx) error {
	if s.deps.Config == nil {
		return fiber.NewError(fiber.StatusNotFound, "runtime config not available")
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if len(params) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no settings given")
	}
	if err := s.deps.Config.UpdateConfig(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	cfg := s.deps.Config.GetConfig()
	s.logger.Info("runtime config updated", "fps", cfg.FPS, "diff_threshold", cfg.DiffThreshold, "diff_pixels", cfg.DiffPixels)
	if s.deps.Events != nil {
		s.deps.Events.Publish(hub.NewEvent(hub.EventConfig, cfg))
	}
	return c.JSON(s.deps.Config.GetConfigJSON())
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"names":   camera.PresetNames(),
		"presets": camera.Presets(),
	})
}

// handleLastImage serves the detector's baseline frame as JPEG
func (s *Server) handleLastImage(c *fiber.Ctx) error {
	if s.deps.Detector == nil {
		return fiber.NewError(fiber.StatusNotFound, "change detection not running")
	}
	img, err := s.deps.Detector.LastImage()
	if errors.Is(err, motion.ErrNoBaseline) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(img)
}

// handleAdjustPixels doubles or halves the changed-pixel threshold and
// stores the result in the runtime config.
func (s *Server) handleAdjustPixels(increase bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.deps.Detector == nil {
			return fiber.NewError(fiber.StatusNotFound, "change detection not running")
		}
		var pixels int
		if increase {
			pixels = s.deps.Detector.IncreasePixels()
		} else {
			pixels = s.deps.Detector.DecreasePixels()
		}

		if s.deps.Config != nil {
			if err := s.deps.Config.UpdateConfig(map[string]interface{}{"diff_pixels": pixels}); err != nil {
				return err
			}
			if s.deps.Events != nil {
				s.deps.Events.Publish(hub.NewEvent(hub.EventConfig, s.deps.Config.GetConfig()))
			}
		}
		s.logger.Info("change threshold adjusted", "diff_pixels", pixels)
		return c.JSON(fiber.Map{"diff_pixels": pixels})
	}
}

// handleEventsWS streams change and stall events until the client leaves
func (s *Server) handleEventsWS(c *websocket.Conn) {
	if s.deps.Events == nil {
		c.Close()
		return
	}
	hub.NewClient(s.deps.Events, c, c.RemoteAddr().String()).Run()
}
