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
	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// HealthResponse is the response for GET /v1/fixpoint/health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status string `json:"status"`

	// Version is the fixpoint build version.
	Version string `json:"version"`
}

// HistoryResponse is the response for GET /v1/fixpoint/history.
type HistoryResponse struct {
	// Runs are the recorded engine runs, newest first.
	Runs []history.Record `json:"runs"`

	// Count is len(Runs).
	Count int `json:"count"`
}

// CacheStatsResponse is the response for GET /v1/fixpoint/cache/stats.
type CacheStatsResponse struct {
	Types typecache.TypeCacheStats `json:"types"`
	Flows typecache.FlowCacheStats `json:"flows"`
}

// LocksResponse is the response for GET /v1/fixpoint/locks.
type LocksResponse struct {
	Locks []lock.Held `json:"locks"`
	Count int         `json:"count"`
}

// ErrorResponse is the error payload for every endpoint.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
