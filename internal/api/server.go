// Package api exposes the engine and the definition library over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/rendis/flowrun/internal/cache"
	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/internal/streaming"
)

// IdempotencyHeader carries the client key that makes run requests replayable.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set to "true" on responses served from the idempotency cache.
const ReplayedHeader = "Idempotent-Replayed"

// Deps holds the dependencies for the API server.
type Deps struct {
	Engine *engine.Engine
	// Store backs the definition library and execution history. Nil disables
	// those routes (they answer 503) while ad-hoc runs keep working.
	Store  store.Store
	Events *store.EventLog
	// Hub serves live events on /v1/stream. Nil answers 503.
	Hub *streaming.Hub
	// IdempotencyTTL bounds how long a keyed run result is replayed.
	IdempotencyTTL time.Duration
	// IdempotencySize bounds the number of remembered keys.
	IdempotencySize int
	Logger          *slog.Logger
}

// Server serves the flowrun HTTP API.
type Server struct {
	deps  Deps
	echo  *echo.Echo
	runs  *cache.TTL[string, *idempotentRun]
	log   *slog.Logger
	store store.Store
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		deps:  deps,
		echo:  echo.New(),
		runs:  cache.New[string, *idempotentRun](deps.IdempotencySize, deps.IdempotencyTTL),
		log:   deps.Logger,
		store: deps.Store,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Use(middleware.RequestID())
	s.echo.Use(otelecho.Middleware("flowrun"))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.BodyLimit("4M"))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
				s.log.WarnContext(c.Request().Context(), "http request failed", attrs...)
				return nil
			}
			s.log.InfoContext(c.Request().Context(), "http request", attrs...)
			return nil
		},
	}))

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.Health)

	v1 := s.echo.Group("/v1")
	v1.POST("/runs", s.RunWorkflow)
	v1.POST("/validate", s.ValidateWorkflow)
	v1.GET("/tools", s.ListTools)
	v1.GET("/stream", s.StreamEvents)

	lib := v1.Group("", s.requireStore)
	lib.GET("/workflows", s.ListWorkflows)
	lib.POST("/workflows", s.SaveWorkflow)
	lib.GET("/workflows/:id", s.GetWorkflow)
	lib.DELETE("/workflows/:id", s.DeleteWorkflow)
	lib.POST("/workflows/:id/run", s.RunStoredWorkflow)
	lib.GET("/executions", s.ListExecutions)
	lib.GET("/executions/:id", s.GetExecution)
	lib.GET("/executions/:id/events", s.GetExecutionEvents)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requireStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.store == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "workflow store is not configured")
		}
		return next(c)
	}
}
