// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Integration test for the full analyze/fix loop against a real
// analyzer process. The analyzer is a shell stub that reports trailing
// whitespace the same way the native format does, so the loop drives
// real process execution, real file rewrites, and real convergence.

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/engine"
	"github.com/AleutianAI/fixpoint/internal/fixer"
	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/safety"
	"github.com/AleutianAI/fixpoint/internal/transaction"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// whitespaceAnalyzer reports one diagnostic per line with trailing
// whitespace in src/*.py, relative to the working directory the client
// sets. Output is the fixpoint-json document format.
const whitespaceAnalyzer = `#!/bin/sh
exec awk '
BEGIN { printf "{\"version\":\"1\",\"diagnostics\":[" }
/[ \t]+$/ {
  printf "%s{\"file\":\"%s\",\"line\":%d,\"message\":\"trailing whitespace\",\"identifier\":\"style.trailing_whitespace\",\"severity\":\"warning\"}", sep, FILENAME, FNR
  sep = ","
}
END { print "]}" }
' src/*.py
`

// stuckAnalyzer always reports the same finding no fixer claims.
const stuckAnalyzer = `#!/bin/sh
echo '{"version":"1","diagnostics":[{"file":"src/app.py","line":1,"message":"mystery problem","identifier":"unknown.rule","severity":"warning"}]}'
`

func writeStub(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "fixpoint-analyze")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeProjectFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// buildTestEngine wires the same collaborators the CLI does, rooted in
// a temp project.
func buildTestEngine(t *testing.T, root, bin string) *engine.Engine {
	t.Helper()

	locks, err := lock.NewManager(lock.Config{
		Dir:            filepath.Join(root, ".fixpoint", "locks"),
		DefaultTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close() })

	types := typecache.NewTypeCache(filepath.Join(root, ".fixpoint", "cache", "types.json"))
	flows := typecache.NewFlowCache(filepath.Join(root, ".fixpoint", "cache", "flows.json"))

	txn, err := transaction.New(transaction.Config{
		Root:      root,
		BackupDir: filepath.Join(root, ".fixpoint", "backups"),
	}, safety.NewChecker(), nil)
	require.NoError(t, err)

	client := analyzer.NewClient(bin,
		analyzer.WithFormat(analyzer.FormatNative),
		analyzer.WithTimeout(10*time.Second),
		analyzer.WithWorkingDir(root),
	)

	eng, err := engine.New(engine.Config{
		Paths:       []string{root},
		Level:       5,
		MaxPasses:   3,
		LockTimeout: 2 * time.Second,
	}, engine.Deps{
		Analyzer: client,
		Fixers:   fixer.DefaultRegistry(),
		Txn:      txn,
		Types:    types,
		Flows:    flows,
		Locks:    locks,
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, types.Save())
		assert.NoError(t, flows.Save())
	})
	return eng
}

func TestFixLoopConvergesOnRealFiles(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	root := t.TempDir()
	bin := writeStub(t, t.TempDir(), whitespaceAnalyzer)
	appPath := writeProjectFile(t, root, filepath.Join("src", "app.py"),
		"import os \ndef main():\n    return 1  \n")

	eng := buildTestEngine(t, root, bin)

	started := time.Now()
	res, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, engine.StopClean, res.StopReason)
	assert.Equal(t, 2, res.PassCount, "one fixing pass, one clean confirmation pass")
	require.Len(t, res.Passes, 2)
	assert.Equal(t, 2, res.Passes[0].Found)
	assert.Equal(t, 2, res.Passes[0].Fixed)
	assert.Equal(t, 0, res.Passes[1].Found)
	assert.Equal(t, 2, res.Fixed)

	// The rewrites really landed.
	content, err := os.ReadFile(appPath)
	require.NoError(t, err)
	assert.Equal(t, "import os\ndef main():\n    return 1\n", string(content))

	// Commit discarded the snapshots.
	entries, err := os.ReadDir(filepath.Join(root, ".fixpoint", "backups"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The run journals like the CLI does.
	store, err := history.Open(history.Config{Path: filepath.Join(root, ".fixpoint", "history")})
	require.NoError(t, err)
	defer store.Close()

	rec := history.FromResult(res, started, time.Since(started))
	require.NoError(t, store.Append(context.Background(), rec))
	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Fixed)
	assert.Contains(t, recs[0].Files, filepath.Join(root, "src", "app.py"))
}

func TestFixLoopStopsWhenNothingClaimsTheFinding(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	root := t.TempDir()
	bin := writeStub(t, t.TempDir(), stuckAnalyzer)
	writeProjectFile(t, root, filepath.Join("src", "app.py"), "print('ok')\n")

	eng := buildTestEngine(t, root, bin)

	res, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, engine.StopRemainingUnfixable, res.StopReason)
	require.Len(t, res.Passes, 1)
	assert.Equal(t, 1, res.Passes[0].Found)
	assert.Equal(t, 0, res.Passes[0].Fixed)
	assert.Equal(t, 1, res.Unfixable)
}
