package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/middleware"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

// DeliveryQueue accepts validated requests and waits for their outcome.
type DeliveryQueue interface {
	Submit(ctx context.Context, req *models.DeliveryRequest) (models.DispatchOutcome, error)
	Depth() int
}

// PendingCounter reports sends parked while the transport is not ready.
type PendingCounter interface {
	Pending() int
}

// ConnectionControl is the part of the connection manager the HTTP
// surface needs.
type ConnectionControl interface {
	Snapshot() service.ConnectionSnapshot
	ClearSession(ctx context.Context) error
}

// QRSource fetches the pairing QR image from the transport.
type QRSource interface {
	GetQRCode(ctx context.Context) ([]byte, string, error)
}

// DeliveryLog reads stored delivery outcomes.
type DeliveryLog interface {
	ListRecentDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	Ping(ctx context.Context) error
}

// WebhookProcessor applies WAHA webhook events.
type WebhookProcessor interface {
	Handle(event *types.WebhookEvent) error
}

// FallbackModeReader reports the fallback content policy in effect.
type FallbackModeReader interface {
	Mode() string
}

// ServerDeps are the collaborators behind the HTTP routes. Webhooks may be
// nil when lifecycle events arrive over the websocket stream.
type ServerDeps struct {
	Queue      DeliveryQueue
	Pending    PendingCounter
	Connection ConnectionControl
	QR         QRSource
	Deliveries DeliveryLog
	Webhooks   WebhookProcessor
	Fallback   FallbackModeReader
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     *models.Config
	deps    ServerDeps
	limiter *RateLimiter
	verbose bool
	server  *http.Server
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		deps:    deps,
		limiter: NewRateLimiter(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSec)*time.Second),
		verbose: verbose,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware(s.logger))
	api.HandleFunc("/send", s.handleSend()).Methods(http.MethodPost)
	api.HandleFunc("/deliveries", s.handleDeliveries()).Methods(http.MethodGet)

	app := s.router.PathPrefix("/app").Subrouter()
	app.HandleFunc("/info", s.handleAppInfo()).Methods(http.MethodGet)
	app.HandleFunc("/status", s.handleAppStatus()).Methods(http.MethodGet)
	app.HandleFunc("/logs/history", s.handleLogHistory()).Methods(http.MethodGet)

	s.router.HandleFunc("/login", s.handleLogin()).Methods(http.MethodGet)
	s.router.HandleFunc("/clear-session", s.handleClearSession()).Methods(http.MethodGet, http.MethodPost)

	if s.deps.Webhooks != nil {
		whatsapp := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
		whatsapp.Use(middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
		whatsapp.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)
	}
}

// Start serves until Shutdown is called. Cleanup of idle rate limiter
// buckets stops with ctx.
func (s *Server) Start(ctx context.Context) error {
	go s.limiter.StartCleanup(ctx)

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
