// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ReportFunc produces a fresh report per request.
type ReportFunc func(ctx context.Context) Report

// Server exposes /healthz and /metrics.
//
// # Description
//
// /healthz evaluates on demand (results are cached for CacheFor so a tight
// scrape loop does not hammer the checks) and answers 200 for OK and
// WARNING, 503 for CRITICAL. /metrics serves the exporter registry, which
// every /healthz evaluation refreshes.
type Server struct {
	report   ReportFunc
	exporter *MetricsExporter
	logger   *slog.Logger
	cacheFor time.Duration

	mu     sync.Mutex
	cached *Report
}

// NewServer creates a Server.
func NewServer(report ReportFunc, exporter *MetricsExporter, cacheFor time.Duration, logger *slog.Logger) *Server {
	return &Server{report: report, exporter: exporter, cacheFor: cacheFor, logger: logger}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("drydock-health"))
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{})))
	return router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) current(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && time.Since(s.cached.GeneratedAt) < s.cacheFor {
		return *s.cached
	}
	report := s.report(ctx)
	s.exporter.Record(report)
	s.cached = &report
	return report
}

func (s *Server) handleHealthz(c *gin.Context) {
	report := s.current(c.Request.Context())
	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
