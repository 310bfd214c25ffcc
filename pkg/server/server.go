// Package server assembles the echo HTTP server
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/middleware"
)

const BasePath = "/api/v1"

// Registrar mounts routes on the API group
type Registrar func(g *echo.Group)

type Config struct {
	ServiceName     string
	Addr            string
	ShutdownTimeout time.Duration
	// ContainerID is the dependency container the handlers resolve from.
	// Empty means the process default container.
	ContainerID string
}

type Server struct {
	echo   *echo.Echo
	cfg    Config
	logger ectologger.Logger
}

func New(cfg Config, logger ectologger.Logger, registrars ...Registrar) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.Context())
	if cfg.ContainerID != "" {
		e.Use(middleware.Container(cfg.ContainerID))
	}
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group(BasePath)
	for _, register := range registrars {
		register(api)
	}

	return &Server{echo: e, cfg: cfg, logger: logger}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done and then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("HTTP server listening")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(shutdownCtx)
}
