// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixpoint_transaction_applies_total",
			Help: "Apply calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	commitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixpoint_transaction_commits_total",
			Help: "Transactions committed successfully.",
		},
	)

	rollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixpoint_transaction_rollbacks_total",
			Help: "Transactions rolled back, explicitly or via the Close backstop.",
		},
	)
)

const (
	applyOutcomeFixed    = "fixed"
	applyOutcomeNoChange = "no_change"
	applyOutcomeFailed   = "failed"
)
