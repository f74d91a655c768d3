// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(history.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fullHandlers(t *testing.T) *Handlers {
	t.Helper()
	types := typecache.NewTypeCache("")
	types.SetType("Widget", "count()", typecache.TypeInfo{DocType: "int"})
	flows := typecache.NewFlowCache("")

	locks, err := lock.NewManager(lock.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close() })

	return NewHandlers(nil).
		WithHistory(openTestStore(t)).
		WithCaches(types, flows).
		WithLocks(locks)
}

func newTestRouter(t *testing.T, cfg Config, h *Handlers) http.Handler {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := New(cfg, h, nil)
	require.NoError(t, err)
	return srv.Router()
}

func doGet(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, NewHandlers(nil), nil)
	assert.Error(t, err, "addr is required")

	_, err = New(Config{Addr: "127.0.0.1:0"}, nil, nil)
	assert.Error(t, err, "handlers are required")
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, Config{}, fullHandlers(t))

	rec := doGet(t, router, "/v1/fixpoint/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestHandleHistory(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := history.Record{StartedAt: base.Add(time.Duration(i) * time.Hour), Passes: i + 1}
		require.NoError(t, store.Append(context.Background(), rec))
	}

	router := newTestRouter(t, Config{}, NewHandlers(nil).WithHistory(store))

	rec := doGet(t, router, "/v1/fixpoint/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, 3, resp.Runs[0].Passes, "newest first")
	assert.Equal(t, 2, resp.Runs[1].Passes)
}

func TestHandleHistory_InvalidLimit(t *testing.T) {
	router := newTestRouter(t, Config{}, fullHandlers(t))

	for _, q := range []string{"?limit=zero", "?limit=-3", "?limit=0"} {
		rec := doGet(t, router, "/v1/fixpoint/history"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleHistory_NotConfigured(t *testing.T) {
	router := newTestRouter(t, Config{}, NewHandlers(nil))

	rec := doGet(t, router, "/v1/fixpoint/history")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "HISTORY_UNAVAILABLE", resp.Code)
}

func TestHandleCacheStats(t *testing.T) {
	router := newTestRouter(t, Config{}, fullHandlers(t))

	rec := doGet(t, router, "/v1/fixpoint/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CacheStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Types.Entries)
	assert.Equal(t, 0, resp.Flows.Origins)
}

func TestHandleLocks(t *testing.T) {
	dir := t.TempDir()
	locks, err := lock.NewManager(lock.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close() })

	ok, err := locks.Acquire("src/app.py", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	router := newTestRouter(t, Config{}, NewHandlers(nil).WithLocks(locks))

	rec := doGet(t, router, "/v1/fixpoint/locks")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LocksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "src/app.py", resp.Locks[0].Resource)
	assert.False(t, resp.Locks[0].Stale)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, Config{}, fullHandlers(t))

	rec := doGet(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, Config{RatePerSecond: 0.1, Burst: 1}, fullHandlers(t))

	first := doGet(t, router, "/v1/fixpoint/health")
	require.Equal(t, http.StatusOK, first.Code)

	second := doGet(t, router, "/v1/fixpoint/health")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMITED", resp.Code)
}

func TestRun_GracefulShutdown(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0"}, fullHandlers(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/v1/fixpoint/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
