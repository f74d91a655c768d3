// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine orchestrates the analyze/fix passes.
//
// Each pass asks the analysis oracle for diagnostics, applies every
// fixable diagnostic inside one transaction, harvests type facts the
// fixers discovered into the caches, and commits. The loop stops when
// the tree analyzes clean, when the remaining diagnostics have no
// applicable fixer, when a pass stops making progress, or when the
// pass limit is reached, whichever comes first.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/fixer"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/transaction"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// DefaultMaxPasses bounds the analyze/fix loop. Three passes resolve
// the common cascades (a fix exposing one more finding) without
// letting a pathological fixer spin.
const DefaultMaxPasses = 3

// Stop reasons recorded in Result.StopReason.
const (
	StopClean              = "clean"
	StopRemainingUnfixable = "remaining_unfixable"
	StopNoImprovement      = "no_improvement"
	StopPassLimit          = "pass_limit"
	StopAnalysisFailed     = "analysis_failed"
	StopCommitFailed       = "commit_failed"
	StopCanceled           = "canceled"
)

// =============================================================================
// Types
// =============================================================================

// Analyzer is the analysis oracle the engine drives. *analyzer.Client
// satisfies this.
type Analyzer interface {
	Analyze(ctx context.Context, paths []string, level int, options map[string]string) (*analyzer.Result, error)
}

// Config carries the per-run knobs.
type Config struct {
	// Paths are the files or directories handed to the analyzer.
	Paths []string

	// Level is the analyzer strictness level.
	Level int

	// Options are passed through to the analyzer unchanged.
	Options map[string]string

	// MaxPasses bounds the loop. Zero selects DefaultMaxPasses.
	MaxPasses int

	// LockTimeout bounds the per-file lock wait. Zero selects the lock
	// manager's default.
	LockTimeout time.Duration
}

// Deps are the engine's collaborators. All but Locks are required.
type Deps struct {
	Analyzer Analyzer
	Fixers   *fixer.Registry
	Txn      *transaction.Applicator
	Types    *typecache.TypeCache
	Flows    *typecache.FlowCache

	// Locks enables cross-process file coordination. Nil runs without
	// locking, which is only safe for single-process use.
	Locks *lock.Manager
}

// Outcome classifies what happened to one diagnostic.
type Outcome string

const (
	// OutcomeFixed means the fix was applied and committed.
	OutcomeFixed Outcome = "fixed"

	// OutcomeUnfixable means no fixer claimed the diagnostic, or the
	// claiming fixer produced no change.
	OutcomeUnfixable Outcome = "unfixable"

	// OutcomeErrored means the fix attempt failed and was rolled back,
	// or the file's lock could not be acquired in time.
	OutcomeErrored Outcome = "errored"
)

// DiagnosticOutcome pairs a diagnostic with its outcome in a pass.
type DiagnosticOutcome struct {
	Diagnostic analyzer.Diagnostic `json:"diagnostic"`
	Outcome    Outcome             `json:"outcome"`
	Fixer      string              `json:"fixer,omitempty"`
	Detail     string              `json:"detail,omitempty"`
	Diff       string              `json:"diff,omitempty"`
}

// PassResult summarizes one completed pass.
type PassResult struct {
	Pass      int                      `json:"pass"`
	Found     int                      `json:"found"`
	Fixed     int                      `json:"fixed"`
	Unfixable int                      `json:"unfixable"`
	Errored   int                      `json:"errored"`
	Outcomes  []DiagnosticOutcome      `json:"outcomes,omitempty"`
	Applied   []transaction.AppliedFix `json:"applied,omitempty"`
	Duration  time.Duration            `json:"duration"`
}

// Result is the run summary.
//
// PassCount counts analyzer invocations. Passes holds every fix phase
// plus the final clean confirmation when there is one, so the two
// differ by one when the loop stops at a no-improvement analysis.
// Fixed accumulates across passes; Unfixable and Errored reflect what
// the last fix phase left behind.
type Result struct {
	Passes     []PassResult `json:"passes"`
	PassCount  int          `json:"pass_count"`
	Converged  bool         `json:"converged"`
	StopReason string       `json:"stop_reason"`
	Fixed      int          `json:"fixed"`
	Unfixable  int          `json:"unfixable"`
	Errored    int          `json:"errored"`
	BackupDir  string       `json:"backup_dir"`
}

// =============================================================================
// Engine
// =============================================================================

// Engine drives the multi-pass fix loop.
//
// # Thread Safety
//
// An Engine runs one Run at a time from a single goroutine. The caches
// and lock manager it holds are themselves safe for concurrent use.
type Engine struct {
	cfg    Config
	oracle Analyzer
	fixers *fixer.Registry
	txn    *transaction.Applicator
	types  *typecache.TypeCache
	flows  *typecache.FlowCache
	locks  *lock.Manager
	logger *slog.Logger
}

// New creates an engine.
//
// # Inputs
//
//   - cfg: Run configuration. Paths must not be empty.
//   - deps: Collaborators. Analyzer, Fixers, Txn, Types, and Flows must
//     not be nil; Locks may be nil for single-process use.
//   - logger: Logger for diagnostic output (nil for the default).
//
// # Outputs
//
//   - *Engine: Ready-to-run engine.
//   - error: ErrNoPaths if cfg names nothing to analyze.
//
// # Panics
//
//   - Panics if a required dependency is nil.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if deps.Analyzer == nil {
		panic("engine: analyzer must not be nil")
	}
	if deps.Fixers == nil {
		panic("engine: fixer registry must not be nil")
	}
	if deps.Txn == nil {
		panic("engine: transaction applicator must not be nil")
	}
	if deps.Types == nil {
		panic("engine: type cache must not be nil")
	}
	if deps.Flows == nil {
		panic("engine: flow cache must not be nil")
	}
	if len(cfg.Paths) == 0 {
		return nil, ErrNoPaths
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		oracle: deps.Analyzer,
		fixers: deps.Fixers,
		txn:    deps.Txn,
		types:  deps.Types,
		flows:  deps.Flows,
		locks:  deps.Locks,
		logger: logger.With("component", "engine"),
	}, nil
}

// Run executes the pass loop until a termination condition is hit.
//
// # Description
//
// The returned Result is non-nil even on error so callers can report
// the passes that did complete. An analyzer timeout or crash fails the
// run with the analyzer's sentinel reachable through errors.Is; fix
// failures never do, they are recorded per diagnostic instead.
//
// # Inputs
//
//   - ctx: Bounds the analyzer processes and fix applications.
//
// # Outputs
//
//   - *Result: Pass-by-pass summary, always non-nil.
//   - error: Non-nil if a pass could not complete.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	result := &Result{BackupDir: e.txn.BackupDir()}
	defer e.cleanup()

	prevFound := -1
	for pass := 1; pass <= e.cfg.MaxPasses; pass++ {
		result.PassCount = pass
		passesTotal.Inc()
		start := time.Now()

		e.logger.Info("pass started",
			"pass", pass, "max_passes", e.cfg.MaxPasses, "level", e.cfg.Level)

		analysis, err := e.oracle.Analyze(ctx, e.cfg.Paths, e.cfg.Level, e.cfg.Options)
		if err != nil {
			result.StopReason = StopAnalysisFailed
			runsTotal.WithLabelValues(result.StopReason).Inc()
			return result, fmt.Errorf("%w: pass %d analysis: %w", ErrPassFailed, pass, err)
		}

		found := len(analysis.Diagnostics)
		if analysis.Clean() {
			result.Converged = true
			result.StopReason = StopClean
			result.Passes = append(result.Passes, PassResult{Pass: pass, Duration: time.Since(start)})
			e.logger.Info("analysis clean", "pass", pass)
			break
		}
		if prevFound >= 0 && found >= prevFound {
			result.StopReason = StopNoImprovement
			e.logger.Warn("diagnostic count did not decrease, stopping",
				"pass", pass, "previous", prevFound, "current", found)
			break
		}
		prevFound = found

		pr := PassResult{Pass: pass, Found: found}
		if _, err := e.txn.Begin(); err != nil {
			result.StopReason = StopCommitFailed
			runsTotal.WithLabelValues(result.StopReason).Inc()
			return result, fmt.Errorf("%w: pass %d begin: %w", ErrPassFailed, pass, err)
		}

		for _, d := range analysis.Diagnostics {
			oc := e.applyOne(ctx, d)
			pr.Outcomes = append(pr.Outcomes, oc)
			outcomesTotal.WithLabelValues(string(oc.Outcome)).Inc()
			switch oc.Outcome {
			case OutcomeFixed:
				pr.Fixed++
			case OutcomeUnfixable:
				pr.Unfixable++
			case OutcomeErrored:
				pr.Errored++
			}
		}

		applied, err := e.txn.Commit()
		if err != nil {
			result.StopReason = StopCommitFailed
			result.Passes = append(result.Passes, pr)
			runsTotal.WithLabelValues(result.StopReason).Inc()
			return result, fmt.Errorf("%w: pass %d commit: %w", ErrPassFailed, pass, err)
		}
		pr.Applied = applied
		pr.Duration = time.Since(start)
		result.Passes = append(result.Passes, pr)
		result.Fixed += pr.Fixed

		e.logger.Info("pass finished",
			"pass", pass,
			"found", found,
			"fixed", pr.Fixed,
			"unfixable", pr.Unfixable,
			"errored", pr.Errored,
			"duration", pr.Duration)

		// Unfixable diagnostics stay unfixable: no fixer will appear
		// between passes. Errored ones are worth one more pass because
		// lock contention and transient I/O failures clear up.
		if pr.Errored == 0 && pr.Fixed < found {
			result.StopReason = StopRemainingUnfixable
			break
		}
		if ctx.Err() != nil {
			result.StopReason = StopCanceled
			runsTotal.WithLabelValues(result.StopReason).Inc()
			return result, ctx.Err()
		}
	}

	if result.StopReason == "" {
		result.StopReason = StopPassLimit
	}
	if n := len(result.Passes); n > 0 && !result.Converged {
		result.Unfixable = result.Passes[n-1].Unfixable
		result.Errored = result.Passes[n-1].Errored
	}
	runsTotal.WithLabelValues(result.StopReason).Inc()

	e.logger.Info("run finished",
		"passes", result.PassCount,
		"converged", result.Converged,
		"stop_reason", result.StopReason,
		"fixed", result.Fixed,
		"unfixable", result.Unfixable,
		"errored", result.Errored)
	return result, nil
}

// =============================================================================
// Internals
// =============================================================================

// applyOne resolves and applies a fixer for one diagnostic inside the
// open transaction, holding the file's named lock for the duration of
// the read-modify-write.
func (e *Engine) applyOne(ctx context.Context, d analyzer.Diagnostic) DiagnosticOutcome {
	fx := e.fixers.Resolve(d)
	if fx == nil {
		return DiagnosticOutcome{
			Diagnostic: d,
			Outcome:    OutcomeUnfixable,
			Detail:     "no applicable fixer",
		}
	}

	oc := DiagnosticOutcome{Diagnostic: d, Fixer: fx.Name()}

	if e.locks != nil {
		ok, err := e.locks.Acquire(d.File, e.cfg.LockTimeout)
		if err != nil {
			oc.Outcome = OutcomeErrored
			oc.Detail = fmt.Sprintf("lock %s: %v", d.File, err)
			return oc
		}
		if !ok {
			oc.Outcome = OutcomeErrored
			oc.Detail = "lock wait timed out, file skipped this pass"
			e.logger.Warn("file locked by another process, skipping",
				"file", d.File, "timeout", e.cfg.LockTimeout)
			return oc
		}
		defer func() {
			if err := e.locks.Release(d.File); err != nil {
				e.logger.Warn("failed to release file lock", "file", d.File, "error", err)
			}
		}()
	}

	var rw *fixer.Rewrite
	rewriteFn := func(ctx context.Context, current []byte) ([]byte, string, error) {
		r, err := fx.Fix(ctx, &fixer.Request{
			Path:       d.File,
			Content:    current,
			Diagnostic: d,
			Types:      e.types,
		})
		if err != nil {
			return nil, "", err
		}
		if r == nil {
			return nil, "", fmt.Errorf("fixer %s returned no rewrite", fx.Name())
		}
		rw = r
		return r.Content, r.Description, nil
	}

	res, err := e.txn.Apply(ctx, d.File, rewriteFn, d)
	if err != nil {
		oc.Outcome = OutcomeErrored
		oc.Detail = err.Error()
		return oc
	}
	if res.Status == transaction.StatusNoChange {
		oc.Outcome = OutcomeUnfixable
		oc.Detail = "fixer produced no change"
		return oc
	}

	oc.Outcome = OutcomeFixed
	oc.Detail = res.Description
	oc.Diff = res.Diff
	if rw != nil && len(rw.TypeFacts) > 0 {
		e.harvest(res.Path, rw.TypeFacts)
	}
	return oc
}

// harvest writes fixer-discovered type facts into the type cache and
// pushes each fact along every recorded flow edge, so destinations
// learn their types without re-derivation next pass.
func (e *Engine) harvest(path string, facts []fixer.TypeFact) {
	for _, fact := range facts {
		if fact.Subject == "" || fact.Member == "" || fact.Info.IsZero() {
			continue
		}

		e.types.RegisterFile(fact.Subject, path)
		e.types.SetType(fact.Subject, fact.Member, fact.Info)

		for _, edge := range fact.Flows {
			e.flows.RecordEdge(fact.Subject, fact.Member, edge.Dest, edge.CallSite)
		}
		for _, dest := range e.flows.Targets(fact.Subject, fact.Member) {
			e.types.SetType(dest.Type, dest.Member, fact.Info)
		}

		e.logger.Debug("type fact harvested",
			"subject", fact.Subject,
			"member", fact.Member,
			"flows", len(fact.Flows))
	}
}

// cleanup closes the transaction backstop and persists the caches.
// Cache save failures are logged, not fatal: the next run rebuilds.
func (e *Engine) cleanup() {
	if err := e.txn.Close(); err != nil {
		e.logger.Error("backstop rollback failed", "error", err)
	}
	if err := e.types.Save(); err != nil {
		e.logger.Warn("failed to save type cache", "error", err)
	}
	if err := e.flows.Save(); err != nil {
		e.logger.Warn("failed to save flow cache", "error", err)
	}
}
