package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"membria/internal/config"
	"membria/internal/logging"
	"membria/internal/observability"
)

// Server exposes the webhook dispatcher over HTTP. It reads the raw body
// before any JSON decoding so signature verification sees the exact bytes
// that were sent.
type Server struct {
	handler *Handler
	cfg     config.Config
	logger  logging.Logger
	metrics *observability.MetricsCollector

	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer wires the dispatcher into a gin engine with recovery and optional
// CORS, mirroring how the rest of the system builds HTTP surfaces.
func NewServer(handler *Handler, cfg config.Config, logger logging.Logger, metrics *observability.MetricsCollector) *Server {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	if !cfg.WebhookGinDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(cfg.WebhookCORSHosts) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.WebhookCORSHosts
		corsConfig.AllowMethods = []string{"POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Content-Type", "X-Event-Type", "X-GitHub-Event", "X-Hub-Signature-256"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		engine:  engine,
	}
	engine.POST("/webhook/github", s.receive)
	engine.POST("/webhook/ci", s.receive)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.WebhookAddr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Engine exposes the router for httptest.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) receive(c *gin.Context) {
	ctx := c.Request.Context()

	reader := io.LimitReader(c.Request.Body, s.cfg.WebhookMaxBody+1)
	body, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusBadRequest, Result{Status: StatusError, Message: "read body: " + err.Error()})
		return
	}
	if int64(len(body)) > s.cfg.WebhookMaxBody {
		c.JSON(http.StatusRequestEntityTooLarge, Result{Status: StatusError, Message: "body exceeds limit"})
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !VerifySignature(s.cfg.WebhookSecret, body, c.GetHeader("X-Hub-Signature-256")) {
			s.metrics.RecordSignatureFailure(ctx)
			s.logger.Warn("webhook signature mismatch from %s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, Result{Status: StatusError, Message: "Invalid signature"})
			return
		}
	} else {
		s.logger.Warn("webhook accepted without signature verification, no secret configured")
	}

	eventType := c.GetHeader("X-Event-Type")
	if eventType == "" {
		eventType = c.GetHeader("X-GitHub-Event")
	}
	if eventType == "" {
		eventType = "ci_event"
	}

	result := s.handler.Handle(ctx, eventType, body)
	s.metrics.RecordWebhookEvent(ctx, eventType, result.Status)
	c.JSON(http.StatusOK, result)
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("webhook server listening on %s", s.cfg.WebhookAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests with a bounded shutdown.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping webhook server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
