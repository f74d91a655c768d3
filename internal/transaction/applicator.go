// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction applies batches of file rewrites atomically.
//
// An Applicator runs one transaction at a time. Every file is backed up
// once per transaction, before the first rewrite touches it, so commit
// can discard the backups and rollback can restore the exact
// pre-transaction tree. Individual fix failures restore only the
// affected file and leave the transaction open.
package transaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/fsio"
	"github.com/AleutianAI/fixpoint/internal/safety"
)

// =============================================================================
// Types
// =============================================================================

// RewriteFunc produces candidate content for a file from its current
// content. The description labels the change in the ledger.
type RewriteFunc func(ctx context.Context, current []byte) (candidate []byte, description string, err error)

// SafetyChecker validates a candidate rewrite against the original
// content. *safety.Checker satisfies this.
type SafetyChecker interface {
	IsSafe(ctx context.Context, original, rewritten []byte, lang string) (bool, []safety.Violation)
}

// Status classifies the outcome of a single Apply call.
type Status string

const (
	// StatusFixed means the file was rewritten and recorded in the ledger.
	StatusFixed Status = "fixed"

	// StatusNoChange means the rewrite produced identical content. Not an
	// error, but nothing was written and nothing entered the ledger.
	StatusNoChange Status = "no_change"
)

// FixResult describes one successful Apply call.
type FixResult struct {
	// Path is the resolved absolute path of the file.
	Path string

	// Status distinguishes an effective rewrite from a no-op.
	Status Status

	// Description is the fixer's label for the change.
	Description string

	// Violations holds advisory safety findings. Critical findings never
	// appear here because they fail the Apply instead.
	Violations []safety.Violation

	// Diff is the unified diff of the rewrite. Empty unless the
	// applicator was configured with RecordDiffs.
	Diff string
}

// AppliedFix is one ledger entry, returned by Commit.
type AppliedFix struct {
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Line        int       `json:"line,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// backupRecord tracks the snapshot taken at a file's first touch.
type backupRecord struct {
	backupPath string
}

type state int

const (
	stateIdle state = iota
	stateActive
)

// Config carries the applicator's directories and limits. Both
// directories are explicit: nothing here is discovered from ambient
// state.
type Config struct {
	// Root confines every path Apply will accept.
	Root string

	// BackupDir receives per-transaction snapshot files.
	BackupDir string

	// MaxFileSize bounds reads. Zero selects fsio.DefaultMaxFileSize.
	MaxFileSize int64

	// RecordDiffs captures a unified diff on each effective rewrite.
	// Backups are discarded at commit, so the diff is the only record
	// of what a fix changed once the transaction closes.
	RecordDiffs bool
}

// =============================================================================
// Applicator
// =============================================================================

// Applicator applies fixes to files under a transaction.
//
// # Description
//
// State machine: idle, then Begin opens a transaction, then Commit or
// Rollback returns to idle. Begin while active is an error; Apply while
// idle is programmer error and panics.
//
// # Thread Safety
//
// All methods are safe for concurrent use, though the engine drives an
// applicator from a single goroutine.
type Applicator struct {
	cfg     Config
	checker SafetyChecker
	logger  *slog.Logger

	mu      sync.Mutex
	state   state
	txnID   string
	backups map[string]backupRecord
	ledger  []AppliedFix
}

// New creates an applicator.
//
// # Inputs
//
//   - cfg: Root and backup directory are required.
//   - checker: Safety gate for every rewrite. Must not be nil.
//   - logger: Logger for diagnostic output (nil for the default).
//
// # Outputs
//
//   - *Applicator: Idle applicator ready for Begin.
//   - error: Non-nil if cfg is incomplete.
//
// # Panics
//
//   - Panics if checker is nil.
func New(cfg Config, checker SafetyChecker, logger *slog.Logger) (*Applicator, error) {
	if checker == nil {
		panic("transaction: safety checker must not be nil")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("transaction: root directory is required")
	}
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("transaction: backup directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Applicator{
		cfg:     cfg,
		checker: checker,
		logger:  logger.With("component", "transaction"),
		state:   stateIdle,
		backups: make(map[string]backupRecord),
	}, nil
}

// Begin opens a transaction and returns its id.
//
// Returns ErrTransactionActive if one is already open; an applicator
// runs one transaction at a time.
func (a *Applicator) Begin() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateActive {
		return "", fmt.Errorf("%w: %s", ErrTransactionActive, a.txnID)
	}

	a.state = stateActive
	a.txnID = uuid.New().String()[:8]
	a.backups = make(map[string]backupRecord)
	a.ledger = nil

	a.logger.Debug("transaction started", "txn_id", a.txnID)
	return a.txnID, nil
}

// Active reports whether a transaction is open.
func (a *Applicator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateActive
}

// BackupDir returns the directory snapshot files are written to.
func (a *Applicator) BackupDir() string { return a.cfg.BackupDir }

// Apply runs one rewrite against one file inside the open transaction.
//
// # Description
//
// The file is snapshotted on its first touch in this transaction, the
// rewrite produces candidate content, the safety checker gates it, and
// the candidate replaces the file atomically. A candidate identical to
// the current content is reported as StatusNoChange and leaves no
// trace. Any failure after the snapshot restores the file to its
// pre-transaction content and is returned to the caller; the
// transaction stays open so other files can still be fixed.
//
// # Inputs
//
//   - ctx: Context passed to the rewrite and the safety checker.
//   - path: File to fix, absolute or relative to the configured root.
//   - rewrite: Content transformation. Must not be nil.
//   - diag: Diagnostic being fixed; its line lands in the ledger.
//
// # Outputs
//
//   - *FixResult: Outcome on success, including advisory violations.
//   - error: Non-nil on validation, rewrite, safety, or I/O failure.
//
// # Panics
//
//   - Panics if no transaction is active or rewrite is nil.
func (a *Applicator) Apply(ctx context.Context, path string, rewrite RewriteFunc, diag analyzer.Diagnostic) (*FixResult, error) {
	if rewrite == nil {
		panic("transaction: rewrite func must not be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateActive {
		panic("transaction: Apply called without an active transaction")
	}

	absPath, err := fsio.ValidatePath(a.cfg.Root, path)
	if err != nil {
		appliesTotal.WithLabelValues(applyOutcomeFailed).Inc()
		return nil, err
	}
	if _, err := os.Stat(absPath); err != nil {
		appliesTotal.WithLabelValues(applyOutcomeFailed).Inc()
		return nil, fmt.Errorf("stat target: %w", err)
	}

	rec, touched := a.backups[absPath]
	if !touched {
		rec, err = a.snapshot(absPath)
		if err != nil {
			appliesTotal.WithLabelValues(applyOutcomeFailed).Inc()
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
		a.backups[absPath] = rec
	}

	current, err := fsio.ReadFileBounded(absPath, a.cfg.MaxFileSize)
	if err != nil {
		return nil, a.failApply(absPath, fmt.Errorf("read target: %w", err))
	}

	candidate, description, err := rewrite(ctx, current)
	if err != nil {
		return nil, a.failApply(absPath, fmt.Errorf("rewrite: %w", err))
	}

	if bytes.Equal(candidate, current) {
		// First touch and nothing changed: the snapshot has no reason to
		// exist.
		if !touched {
			delete(a.backups, absPath)
			if rmErr := fsio.RemoveIfExists(rec.backupPath); rmErr != nil {
				a.logger.Warn("failed to remove unused backup",
					"backup", rec.backupPath, "error", rmErr)
			}
		}
		appliesTotal.WithLabelValues(applyOutcomeNoChange).Inc()
		return &FixResult{Path: absPath, Status: StatusNoChange, Description: description}, nil
	}

	lang := safety.DetectLanguage(absPath)
	safe, violations := a.checker.IsSafe(ctx, current, candidate, lang)
	if !safe {
		return nil, a.failApply(absPath,
			fmt.Errorf("%w: %s", ErrUnsafeRewrite, summarizeCritical(violations)))
	}

	if err := fsio.WriteFileAtomic(absPath, candidate, 0o644); err != nil {
		return nil, a.failApply(absPath, fmt.Errorf("write target: %w", err))
	}

	var diff string
	if a.cfg.RecordDiffs {
		diff = a.unifiedDiff(absPath, current, candidate)
	}

	a.ledger = append(a.ledger, AppliedFix{
		Path:        absPath,
		Description: description,
		Line:        diag.Line,
		Timestamp:   time.Now(),
	})

	appliesTotal.WithLabelValues(applyOutcomeFixed).Inc()
	a.logger.Debug("fix applied",
		"txn_id", a.txnID,
		"path", absPath,
		"line", diag.Line,
		"description", description)

	return &FixResult{
		Path:        absPath,
		Status:      StatusFixed,
		Description: description,
		Violations:  violations,
		Diff:        diff,
	}, nil
}

// Commit closes the transaction, discards every backup, and returns
// the ledger of applied fixes.
//
// If a backup cannot be discarded the applicator rolls back instead,
// so it never ends up half committed.
func (a *Applicator) Commit() ([]AppliedFix, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateActive {
		return nil, ErrNoTransaction
	}

	var errs []error
	for path, rec := range a.backups {
		if err := fsio.RemoveIfExists(rec.backupPath); err != nil {
			errs = append(errs, fmt.Errorf("discard backup for %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		a.logger.Error("commit could not discard backups, rolling back",
			"txn_id", a.txnID, "errors", len(errs))
		rbErr := a.rollbackLocked()
		return nil, errors.Join(append(errs, rbErr)...)
	}

	ledger := a.ledger
	a.reset()
	commitsTotal.Inc()
	a.logger.Info("transaction committed", "txn_id", a.txnID, "fixes", len(ledger))
	return ledger, nil
}

// Rollback restores every touched file to its pre-transaction content.
//
// Restore failures are collected, not short-circuited, so every file
// that can be recovered is recovered. The joined failures are wrapped
// in ErrRollbackFailed.
func (a *Applicator) Rollback() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateActive {
		return ErrNoTransaction
	}
	return a.rollbackLocked()
}

// Close rolls back iff a transaction is still open. It is the backstop
// for abandoned transactions; callers normally commit or roll back
// explicitly.
func (a *Applicator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateActive {
		return nil
	}
	a.logger.Warn("applicator closed with an active transaction, rolling back",
		"txn_id", a.txnID)
	return a.rollbackLocked()
}

// =============================================================================
// Internals
// =============================================================================

// snapshot copies the file's current content into the backup dir.
// Backup names carry the transaction id plus a random suffix so
// concurrent transactions from separate processes never collide.
func (a *Applicator) snapshot(absPath string) (backupRecord, error) {
	if err := fsio.EnsureDir(a.cfg.BackupDir); err != nil {
		return backupRecord{}, err
	}

	name := fmt.Sprintf("%s.%s.%s.bak",
		filepath.Base(absPath), a.txnID, uuid.New().String()[:8])
	backupPath := filepath.Join(a.cfg.BackupDir, name)

	if err := fsio.CopyFile(absPath, backupPath); err != nil {
		return backupRecord{}, err
	}
	return backupRecord{backupPath: backupPath}, nil
}

// failApply restores the file to its pre-transaction snapshot and
// returns the original cause, joined with the restore error if that
// fails too. Ledger entries for the file are dropped because the
// restore reverts them along with the failed fix.
func (a *Applicator) failApply(absPath string, cause error) error {
	appliesTotal.WithLabelValues(applyOutcomeFailed).Inc()

	rec, ok := a.backups[absPath]
	if !ok {
		return cause
	}

	if err := fsio.CopyFile(rec.backupPath, absPath); err != nil {
		a.logger.Error("failed to restore file after fix failure",
			"path", absPath, "backup", rec.backupPath, "error", err)
		return errors.Join(cause, fmt.Errorf("restore %s: %w", absPath, err))
	}

	if dropped := a.pruneLedger(absPath); dropped > 0 {
		a.logger.Warn("restored file to pre-transaction content, earlier fixes reverted",
			"txn_id", a.txnID, "path", absPath, "reverted", dropped)
	}
	return cause
}

// pruneLedger removes ledger entries for the given path and returns
// how many were dropped.
func (a *Applicator) pruneLedger(absPath string) int {
	kept := a.ledger[:0]
	dropped := 0
	for _, fix := range a.ledger {
		if fix.Path == absPath {
			dropped++
			continue
		}
		kept = append(kept, fix)
	}
	a.ledger = kept
	return dropped
}

// unifiedDiff renders the rewrite as a unified diff labeled relative
// to the root. Diffs are advisory, so failures degrade to empty.
func (a *Applicator) unifiedDiff(absPath string, before, after []byte) string {
	rel, err := filepath.Rel(a.cfg.Root, absPath)
	if err != nil {
		rel = filepath.Base(absPath)
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		a.logger.Warn("could not render diff", "path", absPath, "error", err)
		return ""
	}
	return text
}

// rollbackLocked restores all backups. Caller holds a.mu.
func (a *Applicator) rollbackLocked() error {
	var errs []error
	for path, rec := range a.backups {
		if err := fsio.CopyFile(rec.backupPath, path); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", path, err))
			continue
		}
		if err := fsio.RemoveIfExists(rec.backupPath); err != nil {
			a.logger.Warn("restored file but could not remove backup",
				"backup", rec.backupPath, "error", err)
		}
	}

	restored := len(a.backups) - len(errs)
	a.reset()
	rollbacksTotal.Inc()
	a.logger.Info("transaction rolled back",
		"txn_id", a.txnID, "restored", restored, "failed", len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRollbackFailed, errors.Join(errs...))
	}
	return nil
}

// reset returns the applicator to idle. Caller holds a.mu.
func (a *Applicator) reset() {
	a.state = stateIdle
	a.backups = make(map[string]backupRecord)
	a.ledger = nil
}

// summarizeCritical renders the critical violations for an error
// message.
func summarizeCritical(violations []safety.Violation) string {
	for _, v := range violations {
		if v.Severity == safety.SeverityCritical {
			return v.String()
		}
	}
	return "critical violation"
}
