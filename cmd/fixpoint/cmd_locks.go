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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fixpoint/internal/lock"
)

func runLocksList(cmd *cobra.Command, args []string) {
	mgr := openLockManager()
	defer mgr.Close()

	held, err := mgr.List()
	if err != nil {
		log.Fatalf("Could not list lock markers: %v", err)
	}
	if err := newRenderer().Locks(held); err != nil {
		log.Fatalf("Could not render lock markers: %v", err)
	}
}

func runLocksClean(cmd *cobra.Command, args []string) {
	mgr := openLockManager()
	defer mgr.Close()

	removed, err := mgr.CleanupStale()
	if err != nil {
		log.Fatalf("Could not clean stale lock markers: %v", err)
	}
	fmt.Printf("Removed %d stale lock markers.\n", removed)
}

func openLockManager() *lock.Manager {
	mgr, err := lock.NewManager(lock.Config{
		Dir:            cfg.Locks.Dir,
		DefaultTimeout: cfg.Engine.LockTimeout(),
	})
	if err != nil {
		log.Fatalf("Could not open the lock directory %s: %v", cfg.Locks.Dir, err)
	}
	return mgr
}
