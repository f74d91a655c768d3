// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fixpoint/internal/engine"
	"github.com/AleutianAI/fixpoint/internal/transaction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := Record{
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			Duration:   90 * time.Second,
			Passes:     i + 1,
			Fixed:      i,
			StopReason: engine.StopClean,
			Converged:  true,
		}
		require.NoError(t, store.Append(ctx, rec))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Passes, "newest run first")
	assert.Equal(t, 2, recent[1].Passes)
	assert.NotEmpty(t, recent[0].ID, "append fills a missing id")

	all, err := store.Recent(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RecentEmpty(t *testing.T) {
	store := openTestStore(t)

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestStore_Prune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, Record{
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Passes:    i + 1,
		}))
	}

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	recent, err := store.Recent(ctx, 50)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 5, recent[0].Passes, "newest records survive pruning")
	assert.Equal(t, 4, recent[1].Passes)

	removed, err = store.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, removed, "nothing to prune below the keep threshold")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, Record{
		StartedAt: time.Now(),
		Fixed:     7,
		Files:     []string{"/project/a.go"},
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	recent, err := reopened.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 7, recent[0].Fixed)
	assert.Equal(t, []string{"/project/a.go"}, recent[0].Files)
}

func TestFromResult(t *testing.T) {
	res := &engine.Result{
		PassCount:  2,
		Converged:  true,
		StopReason: engine.StopClean,
		Fixed:      3,
		Passes: []engine.PassResult{
			{
				Pass: 1,
				Applied: []transaction.AppliedFix{
					{Path: "/p/a.go"},
					{Path: "/p/b.go"},
					{Path: "/p/a.go"},
				},
			},
			{
				Pass: 2,
				Applied: []transaction.AppliedFix{
					{Path: "/p/b.go"},
					{Path: "/p/c.go"},
				},
			},
		},
	}

	started := time.Now()
	rec := FromResult(res, started, 42*time.Second)

	assert.Equal(t, started, rec.StartedAt)
	assert.Equal(t, 42*time.Second, rec.Duration)
	assert.Equal(t, 2, rec.Passes)
	assert.True(t, rec.Converged)
	assert.Equal(t, engine.StopClean, rec.StopReason)
	assert.Equal(t, 3, rec.Fixed)
	assert.Equal(t, []string{"/p/a.go", "/p/b.go", "/p/c.go"}, rec.Files,
		"files deduplicated in first-touch order")
}
