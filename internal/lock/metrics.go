// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for lock operations.
var (
	lockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_lock_acquisitions_total",
		Help: "Lock acquisition attempts by outcome",
	}, []string{"outcome"})

	lockStaleReclaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fixpoint_lock_stale_reclaims_total",
		Help: "Stale markers reclaimed during acquisition or cleanup",
	})

	lockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fixpoint_lock_wait_duration_seconds",
		Help:    "Time spent waiting to acquire a lock",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
)

// Acquisition outcomes for the lock_acquisitions_total counter.
const (
	outcomeAcquired = "acquired"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)
