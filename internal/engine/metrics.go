// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixpoint_engine_passes_total",
			Help: "Analyze/fix passes executed.",
		},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixpoint_engine_diagnostic_outcomes_total",
			Help: "Per-diagnostic outcomes across all passes.",
		},
		[]string{"outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixpoint_engine_runs_total",
			Help: "Engine runs, labeled by the reason the pass loop stopped.",
		},
		[]string{"stop_reason"},
	)
)
