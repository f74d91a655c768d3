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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	cfgFile      string // --config override for <root>/.fixpoint/fixpoint.yaml
	rootDir      string // --root override for project root detection
	logLevel     string // --log-level override for logging.level
	jsonOut      bool
	plainOut     bool
	verboseOut   bool
	showDiffs    bool     // capture and print unified diffs for applied fixes
	maxPasses    int      // 0 keeps the configured value
	strictLevel  int      // -1 keeps the configured value
	patchFiles   []string // unified diffs with suggested fixes
	analyzerBin  string
	historyLimit int
	serveAddr    string
	serveDebug   bool

	rootCmd = &cobra.Command{
		Use:   "fixpoint",
		Short: "A multi-pass engine that fixes what your analyzer finds",
		Long: `Fixpoint runs a static analyzer over a project, applies every safe
				mechanical fix under a transaction, and repeats until the tree
				comes back clean or stops improving.`,
	}

	fixCmd = &cobra.Command{
		Use:   "fix [path...]",
		Short: "Analyze the given paths and apply safe fixes until clean",
		Run:   runFix, // Defined in cmd_fix.go
	}
	analyzeCmd = &cobra.Command{
		Use:   "analyze [path...]",
		Short: "Run a single analysis pass without changing any files",
		Run:   runAnalyze, // Defined in cmd_analyze.go
	}

	// --- Caches ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the persistent type and flow caches",
	}
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and storage locations for both caches",
		Run:   runCacheStats, // Defined in cmd_cache.go
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached type and flow fact",
		Run:   runCacheClear, // Defined in cmd_cache.go
	}

	// --- Locks ---
	locksCmd = &cobra.Command{
		Use:   "locks",
		Short: "Inspect and manage cross-process file locks",
	}
	locksListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the lock markers currently on disk",
		Run:   runLocksList, // Defined in cmd_locks.go
	}
	locksCleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove stale markers left behind by dead processes",
		Run:   runLocksClean, // Defined in cmd_locks.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent fix runs from the project journal",
		Run:   runHistory, // Defined in cmd_history.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, cache stats and locks over HTTP",
		Run:   runServe, // Defined in cmd_serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the fixpoint version",
		Run:   runVersion, // Defined in main.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Path to fixpoint.yaml (default: <root>/.fixpoint/fixpoint.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "",
		"Project root (default: walk up from the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"Emit machine-readable JSON instead of styled output")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false,
		"Force plain key=value output even on a terminal")
	rootCmd.PersistentFlags().BoolVarP(&verboseOut, "verbose", "v", false,
		"Show per-diagnostic detail that is normally elided")

	rootCmd.AddCommand(fixCmd)
	fixCmd.Flags().BoolVar(&showDiffs, "diff", false,
		"Capture and print a unified diff for every applied fix")
	fixCmd.Flags().IntVar(&maxPasses, "max-passes", 0,
		"Cap analyze/fix passes for this run (0 uses the configured value)")
	fixCmd.Flags().IntVar(&strictLevel, "level", -1,
		"Analyzer strictness 0-9 (-1 uses the configured value)")
	fixCmd.Flags().StringVar(&analyzerBin, "analyzer", "",
		"Analyzer binary to run (overrides the configured one)")
	fixCmd.Flags().StringArrayVar(&patchFiles, "patch", nil,
		"Unified diff of suggested fixes; diagnostics in patched files apply it (repeatable)")

	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().IntVar(&strictLevel, "level", -1,
		"Analyzer strictness 0-9 (-1 uses the configured value)")
	analyzeCmd.Flags().StringVar(&analyzerBin, "analyzer", "",
		"Analyzer binary to run (overrides the configured one)")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(locksCmd)
	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksCleanCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides the configured one)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Run the HTTP API in debug mode with request logging")

	rootCmd.AddCommand(versionCmd)
}
