// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes fixpoint's read-only observability surface
// over HTTP: run history, cache statistics, lock listings and
// Prometheus metrics. Fix runs stay in the CLI; serve mode never
// mutates the tree.
package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// ServiceVersion is the fixpoint service version.
const ServiceVersion = "0.1.0"

// defaultHistoryLimit bounds GET /history when no limit is given.
const defaultHistoryLimit = 20

// maxHistoryLimit is the largest accepted ?limit value.
const maxHistoryLimit = 100

// Handlers contains the HTTP handlers for fixpoint serve mode.
type Handlers struct {
	runs   *history.Store
	types  *typecache.TypeCache
	flows  *typecache.FlowCache
	locks  *lock.Manager
	logger *slog.Logger
}

// NewHandlers creates handlers with no optional dependencies wired.
func NewHandlers(logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger.With("component", "server")}
}

// WithHistory sets the run journal backing GET /history.
func (h *Handlers) WithHistory(store *history.Store) *Handlers {
	h.runs = store
	return h
}

// WithCaches sets the caches backing GET /cache/stats.
func (h *Handlers) WithCaches(types *typecache.TypeCache, flows *typecache.FlowCache) *Handlers {
	h.types = types
	h.flows = flows
	return h
}

// WithLocks sets the lock manager backing GET /locks.
func (h *Handlers) WithLocks(mgr *lock.Manager) *Handlers {
	h.locks = mgr
	return h
}

// HandleHealth handles GET /v1/fixpoint/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleHistory handles GET /v1/fixpoint/history.
//
// Query Parameters:
//
//	limit - Maximum runs to return (default 20, max 100).
//
// Response:
//
//	200 OK: HistoryResponse, newest first
//	400 Bad Request: invalid limit
//	503 Service Unavailable: history store not configured
func (h *Handlers) HandleHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleHistory")

	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "history store not configured",
			Code:  "HISTORY_UNAVAILABLE",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Error("history read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "could not read run history",
			Code:  "HISTORY_READ_FAILED",
		})
		return
	}
	if runs == nil {
		runs = []history.Record{}
	}

	c.JSON(http.StatusOK, HistoryResponse{Runs: runs, Count: len(runs)})
}

// HandleCacheStats handles GET /v1/fixpoint/cache/stats.
//
// Response:
//
//	200 OK: CacheStatsResponse
//	503 Service Unavailable: caches not configured
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	if h.types == nil || h.flows == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "caches not configured",
			Code:  "CACHES_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, CacheStatsResponse{
		Types: h.types.Stats(),
		Flows: h.flows.Stats(),
	})
}

// HandleLocks handles GET /v1/fixpoint/locks.
//
// Response:
//
//	200 OK: LocksResponse, stale markers included
//	503 Service Unavailable: lock manager not configured
func (h *Handlers) HandleLocks(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleLocks")

	if h.locks == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "lock manager not configured",
			Code:  "LOCKS_UNAVAILABLE",
		})
		return
	}

	held, err := h.locks.List()
	if err != nil {
		logger.Error("lock listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "could not list locks",
			Code:  "LOCKS_READ_FAILED",
		})
		return
	}
	if held == nil {
		held = []lock.Held{}
	}

	c.JSON(http.StatusOK, LocksResponse{Locks: held, Count: len(held)})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
