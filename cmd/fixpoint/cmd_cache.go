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

	"github.com/AleutianAI/fixpoint/internal/typecache"
)

func runCacheStats(cmd *cobra.Command, args []string) {
	types := typecache.NewTypeCache(cfg.Caches.TypesPath())
	flows := typecache.NewFlowCache(cfg.Caches.FlowsPath())

	if err := newRenderer().CacheStats(types.Stats(), flows.Stats()); err != nil {
		log.Fatalf("Could not render cache stats: %v", err)
	}
}

func runCacheClear(cmd *cobra.Command, args []string) {
	types := typecache.NewTypeCache(cfg.Caches.TypesPath())
	flows := typecache.NewFlowCache(cfg.Caches.FlowsPath())

	types.Clear()
	flows.Clear()
	if err := types.Save(); err != nil {
		log.Fatalf("Could not persist the cleared type cache: %v", err)
	}
	if err := flows.Save(); err != nil {
		log.Fatalf("Could not persist the cleared flow cache: %v", err)
	}
	fmt.Println("Cleared the type and flow caches.")
}
