// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package typecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for cache behavior.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_cache_hits_total",
		Help: "Cache lookups served from a valid entry",
	}, []string{"cache"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_cache_misses_total",
		Help: "Cache lookups with no usable entry",
	}, []string{"cache"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_cache_evictions_total",
		Help: "Entries evicted during lookup, by reason",
	}, []string{"cache", "reason"})

	cacheLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_cache_load_failures_total",
		Help: "Cold starts forced by unreadable cache files, by reason",
	}, []string{"cache", "reason"})

	flowEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixpoint_flow_edges_recorded_total",
		Help: "Flow edges recorded (deduplicated)",
	})
)

// Cache labels for the shared counters.
const (
	cacheLabelType = "type"
	cacheLabelFlow = "flow"
)

// Eviction reasons.
const (
	evictFileMissing = "file_missing"
	evictFileChanged = "file_changed"
)

// Load failure reasons.
const (
	loadFailCorrupt     = "corrupt_json"
	loadFailVersion     = "version_mismatch"
	loadFailLockTimeout = "lock_timeout"
)
