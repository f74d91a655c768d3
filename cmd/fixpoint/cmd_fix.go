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
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/engine"
	"github.com/AleutianAI/fixpoint/internal/fixer"
	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/safety"
	"github.com/AleutianAI/fixpoint/internal/transaction"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

func runFix(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, cleanup, err := buildEngine(targetPaths(args))
	if err != nil {
		log.Fatalf("Could not assemble the fix engine: %v", err)
	}
	defer cleanup()

	started := time.Now()
	res, runErr := eng.Run(ctx)

	if err := newRenderer().RunResult(res); err != nil {
		logger.Warn("could not render run result", "error", err)
	}
	appendHistory(res, started)

	if runErr != nil {
		log.Fatalf("Fix run failed: %v", runErr)
	}
	if !res.Converged {
		// Findings remain, so scripts get a nonzero exit.
		os.Exit(1)
	}
}

// targetPaths defaults to the whole project when no paths are given.
func targetPaths(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return []string{cfg.Project.Root}
}

func effectiveLevel() int {
	if strictLevel >= 0 {
		return strictLevel
	}
	return cfg.Analyzer.Level
}

func effectiveMaxPasses() int {
	if maxPasses > 0 {
		return maxPasses
	}
	return cfg.Engine.MaxPasses
}

func buildAnalyzer() *analyzer.Client {
	bin := cfg.Analyzer.Bin
	if analyzerBin != "" {
		bin = analyzerBin
	}
	opts := []analyzer.Option{
		analyzer.WithFormat(cfg.Analyzer.Format),
		analyzer.WithTimeout(cfg.Analyzer.Timeout()),
		analyzer.WithWorkingDir(cfg.Project.Root),
	}
	if len(cfg.Analyzer.Args) > 0 {
		opts = append(opts, analyzer.WithArgs(cfg.Analyzer.Args...))
	}
	if len(cfg.Analyzer.AllowedOptions) > 0 {
		opts = append(opts, analyzer.WithAllowedOptions(cfg.Analyzer.AllowedOptions...))
	}
	return analyzer.NewClient(bin, opts...)
}

// buildRegistry assembles the fixer chain. Patches given with --patch
// register first so a suggested fix wins over the builtin rewriters
// for any diagnostic in a file it covers.
func buildRegistry() (*fixer.Registry, error) {
	if len(patchFiles) == 0 {
		return fixer.DefaultRegistry(), nil
	}

	patches := fixer.NewPatchFixer()
	for _, path := range patchFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read patch %s: %w", path, err)
		}
		if err := patches.AddPatch(data); err != nil {
			return nil, fmt.Errorf("patch %s: %w", path, err)
		}
	}

	reg := fixer.NewRegistry()
	reg.Register(patches)
	reg.Register(fixer.NewTrailingWhitespaceFixer())
	reg.Register(fixer.NewFinalNewlineFixer())
	reg.Register(fixer.NewIndentFixer())
	return reg, nil
}

// buildEngine wires the analyzer, fixers, transaction, caches and lock
// manager into an engine. The returned cleanup persists the caches and
// releases the lock manager; call it after the run regardless of
// outcome.
func buildEngine(paths []string) (*engine.Engine, func(), error) {
	fixers, err := buildRegistry()
	if err != nil {
		return nil, nil, err
	}

	var locks *lock.Manager
	if cfg.Locks.Enabled {
		mgr, err := lock.NewManager(lock.Config{
			Dir:            cfg.Locks.Dir,
			DefaultTimeout: cfg.Engine.LockTimeout(),
			CleanupOnInit:  true,
		})
		if err != nil {
			return nil, nil, err
		}
		locks = mgr
	}

	var cacheOpts []typecache.Option
	if locks != nil {
		cacheOpts = append(cacheOpts, typecache.WithLockManager(locks))
	}
	types := typecache.NewTypeCache(cfg.Caches.TypesPath(), cacheOpts...)
	flows := typecache.NewFlowCache(cfg.Caches.FlowsPath(), cacheOpts...)

	txn, err := transaction.New(transaction.Config{
		Root:        cfg.Project.Root,
		BackupDir:   cfg.Backups.Dir,
		RecordDiffs: cfg.Engine.RecordDiffs || showDiffs,
	}, safety.NewChecker(), logger.Slog())
	if err != nil {
		if locks != nil {
			_ = locks.Close()
		}
		return nil, nil, err
	}

	eng, err := engine.New(engine.Config{
		Paths:       paths,
		Level:       effectiveLevel(),
		Options:     cfg.Analyzer.Options,
		MaxPasses:   effectiveMaxPasses(),
		LockTimeout: cfg.Engine.LockTimeout(),
	}, engine.Deps{
		Analyzer: buildAnalyzer(),
		Fixers:   fixers,
		Txn:      txn,
		Types:    types,
		Flows:    flows,
		Locks:    locks,
	}, logger.Slog())
	if err != nil {
		if locks != nil {
			_ = locks.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := types.Save(); err != nil {
			logger.Warn("could not persist the type cache", "error", err)
		}
		if err := flows.Save(); err != nil {
			logger.Warn("could not persist the flow cache", "error", err)
		}
		if locks != nil {
			if err := locks.Close(); err != nil {
				logger.Warn("could not close the lock manager", "error", err)
			}
		}
	}
	return eng, cleanup, nil
}

// appendHistory journals the run. Failures are warnings: a run that
// fixed files but could not be journaled is still a successful run.
func appendHistory(res *engine.Result, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := history.Open(history.Config{Path: cfg.History.Dir})
	if err != nil {
		logger.Warn("could not open the run journal", "error", err)
		return
	}
	defer store.Close()

	if err := store.Append(ctx, history.FromResult(res, started, time.Since(started))); err != nil {
		logger.Warn("could not journal the run", "error", err)
		return
	}
	if _, err := store.Prune(ctx, cfg.History.Keep); err != nil {
		logger.Warn("could not prune the run journal", "error", err)
	}
}
