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
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fixpoint/internal/history"
)

func runHistory(cmd *cobra.Command, args []string) {
	store, err := history.Open(history.Config{Path: cfg.History.Dir})
	if err != nil {
		log.Fatalf("Could not open the run journal: %v", err)
	}
	defer store.Close()

	recs, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		log.Fatalf("Could not read the run journal: %v", err)
	}
	if err := newRenderer().History(recs); err != nil {
		log.Fatalf("Could not render run history: %v", err)
	}
}
