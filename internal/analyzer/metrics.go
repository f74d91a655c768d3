// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixpoint_analyzer_runs_total",
			Help: "Analyzer process executions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fixpoint_analyzer_run_duration_seconds",
			Help:    "Wall time of analyzer process executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	diagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixpoint_analyzer_diagnostics_total",
			Help: "Diagnostics produced by analyzer runs, labeled by severity.",
		},
		[]string{"severity"},
	)
)

const (
	runOutcomeOK       = "ok"
	runOutcomeTimeout  = "timeout"
	runOutcomeFailed   = "failed"
	runOutcomeBadInput = "bad_input"
)
