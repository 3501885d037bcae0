// Package api serves the HTTP and websocket surface used by the UI layer
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/adherence"
	"github.com/gmsas95/carewatch/internal/clock"
	"github.com/gmsas95/carewatch/internal/config"
	"github.com/gmsas95/carewatch/internal/models"
)

// AppointmentSource returns the appointments currently being watched
type AppointmentSource interface {
	Snapshot() []models.Appointment
}

// TransitionStore reads the automatic transition audit trail
type TransitionStore interface {
	ListTransitions(ctx context.Context, appointmentID int64, limit int) ([]models.StatusTransition, error)
}

// DoseService records doses and computes adherence
type DoseService interface {
	MarkTaken(ctx context.Context, prescriptionID, patientID int64) (adherence.Snapshot, error)
	Adherence(ctx context.Context, patientID int64) (adherence.Snapshot, error)
}

// PermissionRequester asks the notification platform for permission
type PermissionRequester interface {
	RequestPermission(ctx context.Context) bool
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Appointments AppointmentSource
	Transitions  TransitionStore
	Doses        DoseService
	Permissions  PermissionRequester
	Gatherer     prometheus.Gatherer
	Clock        clock.Clock
}

// Server handles HTTP API and WebSocket
type Server struct {
	app    *fiber.App
	config config.ServerConfig
	deps   Deps
	hub    *Hub
	logger *zap.Logger
}

// New creates a new API server
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	readTimeout := 30 * time.Second
	if cfg.ReadTimeout > 0 {
		readTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	}
	writeTimeout := 30 * time.Second
	if cfg.WriteTimeout > 0 {
		writeTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:               "carewatch",
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	s := &Server{
		app:    app,
		config: cfg,
		deps:   deps,
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the websocket hub status changes are broadcast on
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.logger.Info("Starting API server", zap.String("address", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
