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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/fixer"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/safety"
	"github.com/AleutianAI/fixpoint/internal/transaction"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// scriptedOracle returns canned diagnostic sets in call order, then
// repeats the last set. Content-level analysis is covered by the
// analyzer package's own tests.
type scriptedOracle struct {
	script [][]analyzer.Diagnostic
	calls  int
	err    error
}

func (s *scriptedOracle) Analyze(_ context.Context, _ []string, _ int, _ map[string]string) (*analyzer.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return &analyzer.Result{Diagnostics: s.script[idx], Command: "scripted"}, nil
}

// allowAll skips content validation so tests control outcomes through
// fixers alone.
type allowAll struct{}

func (allowAll) IsSafe(context.Context, []byte, []byte, string) (bool, []safety.Violation) {
	return true, nil
}

// markerFixer claims diagnostics whose message contains its marker and
// rewrites the file wholesale. It can be told to fail its first calls.
type markerFixer struct {
	name     string
	marker   string
	replace  string
	facts    []fixer.TypeFact
	failures int
	calls    int
}

func (f *markerFixer) Name() string { return f.name }

func (f *markerFixer) CanFix(d analyzer.Diagnostic) bool {
	return strings.Contains(d.Message, f.marker)
}

func (f *markerFixer) Fix(_ context.Context, _ *fixer.Request) (*fixer.Rewrite, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	return &fixer.Rewrite{
		Content:     []byte(f.replace),
		Description: f.name,
		TypeFacts:   f.facts,
	}, nil
}

type harness struct {
	root   string
	oracle *scriptedOracle
	types  *typecache.TypeCache
	flows  *typecache.FlowCache
	engine *Engine
}

func newHarness(t *testing.T, oracle *scriptedOracle, reg *fixer.Registry, locks *lock.Manager) *harness {
	t.Helper()
	root := t.TempDir()

	ap, err := transaction.New(transaction.Config{
		Root:      root,
		BackupDir: filepath.Join(root, "backups"),
	}, allowAll{}, nil)
	require.NoError(t, err)

	types := typecache.NewTypeCache(filepath.Join(root, "types.json"))
	flows := typecache.NewFlowCache(filepath.Join(root, "flows.json"))

	eng, err := New(Config{
		Paths:       []string{root},
		Level:       5,
		MaxPasses:   3,
		LockTimeout: 200 * time.Millisecond,
	}, Deps{
		Analyzer: oracle,
		Fixers:   reg,
		Txn:      ap,
		Types:    types,
		Flows:    flows,
		Locks:    locks,
	}, nil)
	require.NoError(t, err)

	return &harness{root: root, oracle: oracle, types: types, flows: flows, engine: eng}
}

func (h *harness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	oracle := &scriptedOracle{script: [][]analyzer.Diagnostic{{}}}
	deps := Deps{
		Analyzer: oracle,
		Fixers:   fixer.NewRegistry(),
		Txn:      mustApplicator(t),
		Types:    typecache.NewTypeCache(""),
		Flows:    typecache.NewFlowCache(""),
	}

	_, err := New(Config{}, deps, nil)
	assert.True(t, errors.Is(err, ErrNoPaths))

	assert.Panics(t, func() {
		broken := deps
		broken.Analyzer = nil
		_, _ = New(Config{Paths: []string{"."}}, broken, nil)
	})
	assert.Panics(t, func() {
		broken := deps
		broken.Types = nil
		_, _ = New(Config{Paths: []string{"."}}, broken, nil)
	})
}

func mustApplicator(t *testing.T) *transaction.Applicator {
	t.Helper()
	root := t.TempDir()
	ap, err := transaction.New(transaction.Config{
		Root:      root,
		BackupDir: filepath.Join(root, "backups"),
	}, allowAll{}, nil)
	require.NoError(t, err)
	return ap
}

func TestRun_CleanFirstPass(t *testing.T) {
	oracle := &scriptedOracle{script: [][]analyzer.Diagnostic{{}}}
	h := newHarness(t, oracle, fixer.DefaultRegistry(), nil)

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, StopClean, res.StopReason)
	assert.Equal(t, 1, res.PassCount)
	assert.Equal(t, 0, res.Fixed)
	assert.Equal(t, 1, oracle.calls)
}

func TestRun_FixThenClean(t *testing.T) {
	oracle := &scriptedOracle{}
	h := newHarness(t, oracle, fixer.DefaultRegistry(), nil)
	path := h.writeFile(t, "a.go", "package a   \n")

	oracle.script = [][]analyzer.Diagnostic{
		{{File: path, Line: 1, Message: "trailing whitespace", Severity: analyzer.SeverityWarning}},
		{},
	}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, StopClean, res.StopReason)
	assert.Equal(t, 2, res.PassCount)
	assert.Equal(t, 1, res.Fixed)

	require.Len(t, res.Passes, 2)
	assert.Equal(t, 1, res.Passes[0].Fixed)
	require.Len(t, res.Passes[0].Applied, 1)
	assert.Equal(t, path, res.Passes[0].Applied[0].Path)

	assert.Equal(t, "package a\n", h.readFile(t, path))

	backups, err := filepath.Glob(filepath.Join(res.BackupDir, "*.bak"))
	require.NoError(t, err)
	assert.Empty(t, backups, "committed passes leave no backups behind")
}

// Five diagnostics, three fixable and two with no registered fixer:
// the run must stop after one pass instead of burning the remaining
// passes on diagnostics nothing can fix.
func TestRun_RemainingUnfixableStopsAfterOnePass(t *testing.T) {
	oracle := &scriptedOracle{}
	h := newHarness(t, oracle, fixer.DefaultRegistry(), nil)

	var diags []analyzer.Diagnostic
	for i := 1; i <= 3; i++ {
		path := h.writeFile(t, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d   \n", i))
		diags = append(diags, analyzer.Diagnostic{
			File: path, Line: 1, Message: "trailing whitespace",
		})
	}
	for i := 4; i <= 5; i++ {
		path := h.writeFile(t, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d\n", i))
		diags = append(diags, analyzer.Diagnostic{
			File: path, Line: 1, Message: "mystery condition no fixer understands",
		})
	}
	oracle.script = [][]analyzer.Diagnostic{diags}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopRemainingUnfixable, res.StopReason)
	assert.Equal(t, 1, res.PassCount)
	assert.Equal(t, 1, oracle.calls, "no second analysis when the remainder is unfixable")
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Fixed)
	assert.Equal(t, 2, res.Unfixable)
	assert.Equal(t, 0, res.Errored)

	require.Len(t, res.Passes, 1)
	unfixable := 0
	for _, oc := range res.Passes[0].Outcomes {
		if oc.Outcome == OutcomeUnfixable {
			unfixable++
			assert.Equal(t, "no applicable fixer", oc.Detail)
		}
	}
	assert.Equal(t, 2, unfixable)
}

func TestRun_NoImprovementStops(t *testing.T) {
	oracle := &scriptedOracle{}
	appendFixer := &markerFixer{name: "rewriter", marker: "rewrite me"}
	reg := fixer.NewRegistry()
	reg.Register(appendFixer)
	h := newHarness(t, oracle, reg, nil)

	a := h.writeFile(t, "a.go", "package a\n")
	b := h.writeFile(t, "b.go", "package b\n")
	appendFixer.replace = "package x // rewritten\n"

	pass := []analyzer.Diagnostic{
		{File: a, Line: 1, Message: "rewrite me"},
		{File: b, Line: 1, Message: "rewrite me"},
	}
	// The same two diagnostics come back after the fixes: no forward
	// progress, stop at the second analysis.
	oracle.script = [][]analyzer.Diagnostic{pass, pass}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopNoImprovement, res.StopReason)
	assert.Equal(t, 2, res.PassCount)
	assert.Equal(t, 2, oracle.calls)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Fixed, "first pass fixes still count")
	assert.Len(t, res.Passes, 1, "second pass never reached its fix phase")
}

func TestRun_AnalyzerFailureFailsRun(t *testing.T) {
	oracle := &scriptedOracle{
		err: fmt.Errorf("scripted: %w", analyzer.ErrAnalyzerTimeout),
	}
	h := newHarness(t, oracle, fixer.DefaultRegistry(), nil)

	res, err := h.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPassFailed))
	assert.True(t, errors.Is(err, analyzer.ErrAnalyzerTimeout),
		"analyzer sentinel stays reachable")
	require.NotNil(t, res)
	assert.Equal(t, StopAnalysisFailed, res.StopReason)
}

func TestRun_TransientErrorRetriedNextPass(t *testing.T) {
	oracle := &scriptedOracle{}
	flaky := &markerFixer{
		name:     "flaky",
		marker:   "flaky finding",
		replace:  "package b // repaired\n",
		failures: 1,
	}
	reg := fixer.DefaultRegistry()
	reg.Register(flaky)
	h := newHarness(t, oracle, reg, nil)

	a := h.writeFile(t, "a.go", "package a   \n")
	b := h.writeFile(t, "b.go", "package b\n")

	oracle.script = [][]analyzer.Diagnostic{
		{
			{File: a, Line: 1, Message: "trailing whitespace"},
			{File: b, Line: 1, Message: "flaky finding"},
		},
		{
			{File: b, Line: 1, Message: "flaky finding"},
		},
		{},
	}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.PassCount)
	assert.Equal(t, 2, res.Fixed)

	require.Len(t, res.Passes, 3)
	assert.Equal(t, 1, res.Passes[0].Errored, "flaky fixer fails on first pass")
	assert.Equal(t, 1, res.Passes[1].Fixed, "and succeeds on retry")
	assert.Equal(t, "package b // repaired\n", h.readFile(t, b))
}

func TestRun_HarvestWritesAndPropagatesTypeFacts(t *testing.T) {
	oracle := &scriptedOracle{}
	info := typecache.TypeInfo{DocType: "int", NativeType: "integer"}
	typed := &markerFixer{
		name:    "typed",
		marker:  "missing type",
		replace: "package w // typed\n",
		facts: []fixer.TypeFact{{
			Subject: "Widget",
			Member:  "count()",
			Info:    info,
			Flows: []typecache.Edge{{
				Dest:     typecache.Dest{Type: "Order", Member: "total"},
				CallSite: "Order.php:40",
			}},
		}},
	}
	reg := fixer.NewRegistry()
	reg.Register(typed)
	h := newHarness(t, oracle, reg, nil)

	w := h.writeFile(t, "widget.go", "package w\n")
	orderFile := h.writeFile(t, "order.go", "package o\n")

	oracle.script = [][]analyzer.Diagnostic{
		{{File: w, Line: 1, Message: "missing type on count"}},
		{},
	}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fixed)

	got, ok := h.types.GetType("Widget", "count()")
	require.True(t, ok, "harvested fact readable, subject registered to the fixed file")
	assert.Equal(t, info, got)

	targets := h.flows.Targets("Widget", "count()")
	require.Len(t, targets, 1)
	assert.Equal(t, typecache.Dest{Type: "Order", Member: "total"}, targets[0])

	// The propagated destination entry becomes readable once its file
	// is known.
	h.types.RegisterFile("Order", orderFile)
	got, ok = h.types.GetType("Order", "total")
	require.True(t, ok, "flow propagation seeded the destination type")
	assert.Equal(t, info, got)

	// cleanup persisted both caches for the next run.
	assert.FileExists(t, filepath.Join(h.root, "types.json"))
	assert.FileExists(t, filepath.Join(h.root, "flows.json"))
}

func TestRun_LockTimeoutRecordsErrored(t *testing.T) {
	oracle := &scriptedOracle{}
	lockDir := t.TempDir()

	holder, err := lock.NewManager(lock.Config{
		Dir:          lockDir,
		PollInterval: 20 * time.Millisecond,
		Probe:        lock.AgeOnlyProbe{},
	})
	require.NoError(t, err)
	defer holder.Close()

	engineLocks, err := lock.NewManager(lock.Config{
		Dir:          lockDir,
		PollInterval: 20 * time.Millisecond,
		Probe:        lock.AgeOnlyProbe{},
	})
	require.NoError(t, err)
	defer engineLocks.Close()

	h := newHarness(t, oracle, fixer.DefaultRegistry(), engineLocks)
	path := h.writeFile(t, "a.go", "package a   \n")

	ok, err := holder.Acquire(path, time.Second)
	require.NoError(t, err)
	require.True(t, ok, "holder owns the file lock for the whole run")

	d := analyzer.Diagnostic{File: path, Line: 1, Message: "trailing whitespace"}
	oracle.script = [][]analyzer.Diagnostic{{d}, {d}}

	res, err := h.engine.Run(context.Background())
	require.NoError(t, err, "lock contention is recorded, not fatal")
	assert.Equal(t, StopNoImprovement, res.StopReason)

	require.Len(t, res.Passes, 1)
	require.Len(t, res.Passes[0].Outcomes, 1)
	oc := res.Passes[0].Outcomes[0]
	assert.Equal(t, OutcomeErrored, oc.Outcome)
	assert.Contains(t, oc.Detail, "lock wait timed out")

	assert.Equal(t, "package a   \n", h.readFile(t, path), "locked file untouched")
}
