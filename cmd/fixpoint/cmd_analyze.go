// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runAnalyze(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := buildAnalyzer().Analyze(ctx, targetPaths(args), effectiveLevel(), cfg.Analyzer.Options)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	if err := newRenderer().Diagnostics(res); err != nil {
		log.Fatalf("Could not render diagnostics: %v", err)
	}
	if !res.Clean() {
		// Findings present, so scripts get a nonzero exit.
		os.Exit(1)
	}
}
