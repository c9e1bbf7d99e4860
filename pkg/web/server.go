// Package web serves the camwatch status and configuration API and the
// change-event websocket.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-camwatch/pkg/camera"
	"github.com/teslashibe/go-camwatch/pkg/hub"
	"github.com/teslashibe/go-camwatch/pkg/motion"
	"github.com/teslashibe/go-camwatch/pkg/session"
)

// CaptureStatus is the capture side of the API.
type CaptureStatus interface {
	Stats() session.Stats
	ListDevices() ([]session.DeviceInfo, error)
}

// Detector is the change-detection side of the API.
type Detector interface {
	Stats() motion.Stats
	LastImage() ([]byte, error)
	IncreasePixels() int
	DecreasePixels() int
}

// Deps wires the server to the running components. Detector may be nil.
type Deps struct {
	Capture  CaptureStatus
	Detector Detector
	Config   *camera.Manager
	Events   *hub.Hub
	Logger   *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	app     *fiber.App
	addr    string
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the routes. addr is a listen address such as ":8080".
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		deps:    deps,
		logger:  logger.With("component", "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "camwatch",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/devices", s.handleDevices)
	api.Get("/config", s.handleGetConfig)
	api.Post("/config", s.handleSetConfig)
	api.Get("/config/presets", s.handlePresets)
	api.Post("/config/pixels/increase", s.handleAdjustPixels(true))
	api.Post("/config/pixels/decrease", s.handleAdjustPixels(false))
	api.Get("/last-image", s.handleLastImage)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("http api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
