// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fixpoint/internal/telemetry"
)

// shutdownGrace bounds the drain window once Run's context ends.
const shutdownGrace = 5 * time.Second

// Config controls the HTTP server.
type Config struct {
	// Addr is the bind address, e.g. "127.0.0.1:7430".
	Addr string

	// ServiceName labels otelgin spans. Default "fixpoint".
	ServiceName string

	// RatePerSecond enables the process-wide rate limiter when > 0.
	RatePerSecond float64

	// Burst is the limiter burst size. Zero selects RatePerSecond
	// rounded up, minimum 1.
	Burst int

	// Debug switches gin into debug mode with request logging.
	Debug bool
}

// Server hosts the fixpoint observability API.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *slog.Logger

	ready chan struct{}
	addr  string
}

// New builds the server and its full middleware chain.
//
// # Inputs
//
//   - cfg: Addr is required.
//   - handlers: Route handlers, usually from NewHandlers().WithX chains.
//   - logger: Logger for lifecycle events (nil for the default).
//
// # Outputs
//
//   - *Server: Ready to Run.
//   - error: Non-nil if cfg is incomplete.
func New(cfg Config, handlers *Handlers, logger *slog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("server: bind address is required")
	}
	if handlers == nil {
		return nil, fmt.Errorf("server: handlers are required")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fixpoint"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = int(cfg.RatePerSecond) + 1
		}
		router.Use(rateLimit(cfg.RatePerSecond, burst))
	}

	// The otel bridge handler when telemetry is up, the plain
	// promhttp handler otherwise. Both serve the default registry the
	// package-level promauto metrics live in.
	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	return &Server{
		cfg:    cfg,
		router: router,
		logger: logger.With("component", "server"),
		ready:  make(chan struct{}),
	}, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Ready is closed once the listener is bound; Addr is valid after.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, useful with ":0" configs.
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx ends, then drains connections for up to
// shutdownGrace before returning. A clean drain returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr().String()
	close(s.ready)

	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("serving", "addr", s.addr)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info("shutting down", "addr", s.addr)
		return httpSrv.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
