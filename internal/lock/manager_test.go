// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeProbe lets tests declare holders dead or alive.
type fakeProbe struct {
	alive bool
}

func (p fakeProbe) Alive(pid int) bool { return p.alive }

func createTestManager(t *testing.T, dir string, probe LivenessProbe) *Manager {
	t.Helper()
	config := Config{
		Dir:            filepath.Join(dir, "locks"),
		DefaultTimeout: time.Second,
		PollInterval:   20 * time.Millisecond,
		Probe:          probe,
	}
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func TestNewManager(t *testing.T) {
	t.Run("creates lock directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		config := DefaultConfig()
		config.Dir = filepath.Join(tmpDir, "locks")

		manager, err := NewManager(config)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		defer manager.Close()

		if _, err := os.Stat(config.Dir); os.IsNotExist(err) {
			t.Error("Lock directory was not created")
		}
	})

	t.Run("fails with uncreatable directory", func(t *testing.T) {
		config := DefaultConfig()
		config.Dir = string([]byte{0}) + "/locks"

		if _, err := NewManager(config); err == nil {
			t.Error("Expected error for invalid lock directory")
		}
	})

	t.Run("stale age defaults to twice the timeout", func(t *testing.T) {
		tmpDir := t.TempDir()
		config := Config{
			Dir:            filepath.Join(tmpDir, "locks"),
			DefaultTimeout: 3 * time.Second,
		}
		manager, err := NewManager(config)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		defer manager.Close()

		if manager.staleAge != 6*time.Second {
			t.Errorf("staleAge = %v, want 6s", manager.staleAge)
		}
	})
}

func TestManager_AcquireRelease(t *testing.T) {
	t.Run("acquire writes marker, release removes it", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, nil)
		defer manager.Close()

		ok, err := manager.Acquire("typecache", time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if !ok {
			t.Fatal("Acquire returned false on free resource")
		}

		markerPath := manager.markerPath("typecache")
		data, err := os.ReadFile(markerPath)
		if err != nil {
			t.Fatalf("marker not written: %v", err)
		}

		// The marker JSON is a cross-process contract.
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("marker is not valid JSON: %v", err)
		}
		for _, key := range []string{"pid", "time", "file"} {
			if _, present := raw[key]; !present {
				t.Errorf("marker missing %q field: %s", key, data)
			}
		}
		if int(raw["pid"].(float64)) != os.Getpid() {
			t.Errorf("marker pid = %v, want %d", raw["pid"], os.Getpid())
		}
		if raw["file"] != "typecache" {
			t.Errorf("marker file = %v, want typecache", raw["file"])
		}

		if err := manager.Release("typecache"); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
			t.Error("marker still present after release")
		}
	})

	t.Run("reacquire by same manager succeeds", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, nil)
		defer manager.Close()

		if ok, err := manager.Acquire("res", time.Second); !ok || err != nil {
			t.Fatalf("first Acquire = %v, %v", ok, err)
		}
		if ok, err := manager.Acquire("res", time.Second); !ok || err != nil {
			t.Fatalf("second Acquire = %v, %v", ok, err)
		}
	})

	t.Run("release without lock returns ErrLockNotHeld", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, nil)
		defer manager.Close()

		if err := manager.Release("never-held"); !errors.Is(err, ErrLockNotHeld) {
			t.Errorf("expected ErrLockNotHeld, got %v", err)
		}
	})

	t.Run("empty resource rejected", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, nil)
		defer manager.Close()

		if _, err := manager.Acquire("", time.Second); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("expected ErrInvalidResource, got %v", err)
		}
	})
}

func TestManager_MutualExclusion(t *testing.T) {
	t.Run("second manager times out within tolerance", func(t *testing.T) {
		tmpDir := t.TempDir()
		m1 := createTestManager(t, tmpDir, nil)
		defer m1.Close()
		m2 := createTestManager(t, tmpDir, nil)
		defer m2.Close()

		if ok, err := m1.Acquire("shared", time.Second); !ok || err != nil {
			t.Fatalf("m1.Acquire = %v, %v", ok, err)
		}

		timeout := 500 * time.Millisecond
		start := time.Now()
		ok, err := m2.Acquire("shared", timeout)
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("contended Acquire errored: %v", err)
		}
		if ok {
			t.Fatal("second manager acquired a held lock")
		}
		// The documented wait is honored within 20 percent.
		if elapsed < 400*time.Millisecond {
			t.Errorf("gave up after %v, want at least 400ms", elapsed)
		}
		if elapsed > 650*time.Millisecond {
			t.Errorf("waited %v, want at most ~600ms", elapsed)
		}
	})

	t.Run("waiter wins after release", func(t *testing.T) {
		tmpDir := t.TempDir()
		m1 := createTestManager(t, tmpDir, nil)
		defer m1.Close()
		m2 := createTestManager(t, tmpDir, nil)
		defer m2.Close()

		if ok, err := m1.Acquire("shared", time.Second); !ok || err != nil {
			t.Fatalf("m1.Acquire = %v, %v", ok, err)
		}

		type result struct {
			ok  bool
			err error
		}
		done := make(chan result, 1)
		go func() {
			ok, err := m2.Acquire("shared", 2*time.Second)
			done <- result{ok, err}
		}()

		time.Sleep(150 * time.Millisecond)
		if err := m1.Release("shared"); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("waiter errored: %v", r.err)
			}
			if !r.ok {
				t.Fatal("waiter did not acquire after release")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("waiter never returned")
		}
	})
}

func TestManager_StaleReclaim(t *testing.T) {
	writeMarker := func(t *testing.T, m *Manager, resource string, pid int, at time.Time) {
		t.Helper()
		data, err := encodeMarker(&Marker{PID: pid, Time: at.Unix(), File: resource})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(m.markerPath(resource), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("dead holder is reclaimed immediately", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, fakeProbe{alive: false})
		defer manager.Close()

		writeMarker(t, manager, "res", 4242, time.Now())

		start := time.Now()
		ok, err := manager.Acquire("res", time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if !ok {
			t.Fatal("stale lock was not reclaimed")
		}
		if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
			t.Errorf("reclaim took %v, want immediate", elapsed)
		}
	})

	t.Run("ancient marker reclaimed despite live holder", func(t *testing.T) {
		tmpDir := t.TempDir()
		// AgeOnlyProbe reports every PID alive, so only age can
		// trigger the reclaim. staleAge is 2s (2x the 1s timeout).
		manager := createTestManager(t, tmpDir, AgeOnlyProbe{})
		defer manager.Close()

		writeMarker(t, manager, "res", os.Getpid(), time.Now().Add(-time.Hour))

		ok, err := manager.Acquire("res", time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if !ok {
			t.Fatal("aged-out lock was not reclaimed")
		}
	})

	t.Run("fresh marker from live holder blocks", func(t *testing.T) {
		tmpDir := t.TempDir()
		manager := createTestManager(t, tmpDir, AgeOnlyProbe{})
		defer manager.Close()

		writeMarker(t, manager, "res", os.Getpid(), time.Now())

		ok, err := manager.Acquire("res", 200*time.Millisecond)
		if err != nil {
			t.Fatalf("Acquire errored: %v", err)
		}
		if ok {
			t.Fatal("fresh foreign marker was stolen")
		}
	})

	t.Run("corrupt marker past stale age is removed", func(t *testing.T) {
		tmpDir := t.TempDir()
		config := Config{
			Dir:            filepath.Join(tmpDir, "locks"),
			DefaultTimeout: time.Second,
			PollInterval:   20 * time.Millisecond,
			StaleAge:       50 * time.Millisecond,
			Probe:          AgeOnlyProbe{},
		}
		manager, err := NewManager(config)
		if err != nil {
			t.Fatal(err)
		}
		defer manager.Close()

		markerPath := manager.markerPath("res")
		if err := os.WriteFile(markerPath, []byte("not json"), 0644); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-time.Minute)
		if err := os.Chtimes(markerPath, old, old); err != nil {
			t.Fatal(err)
		}

		ok, err := manager.Acquire("res", time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if !ok {
			t.Fatal("corrupt aged marker was not cleared")
		}
	})
}

func TestManager_CleanupStale(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, fakeProbe{alive: false})
	defer manager.Close()

	// Three markers from "dead" processes.
	for _, res := range []string{"a", "b", "c"} {
		data, _ := encodeMarker(&Marker{PID: 4242, Time: time.Now().Unix(), File: res})
		if err := os.WriteFile(manager.markerPath(res), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	cleaned, err := manager.CleanupStale()
	if err != nil {
		t.Fatalf("CleanupStale failed: %v", err)
	}
	if cleaned != 3 {
		t.Errorf("cleaned = %d, want 3", cleaned)
	}

	held, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 0 {
		t.Errorf("markers remain after cleanup: %v", held)
	}
}

func TestManager_List(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, nil)
	defer manager.Close()

	if ok, _ := manager.Acquire("typecache", time.Second); !ok {
		t.Fatal("Acquire failed")
	}
	if ok, _ := manager.Acquire("flowcache", time.Second); !ok {
		t.Fatal("Acquire failed")
	}

	held, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("len(held) = %d, want 2", len(held))
	}

	resources := map[string]bool{}
	for _, h := range held {
		resources[h.Resource] = true
		if h.PID != os.Getpid() {
			t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
		}
		if h.Stale {
			t.Errorf("fresh lock on %s reported stale", h.Resource)
		}
	}
	if !resources["typecache"] || !resources["flowcache"] {
		t.Errorf("unexpected resources: %v", resources)
	}
}

func TestManager_Holder(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, nil)
	defer manager.Close()

	holder, err := manager.Holder("res")
	if err != nil {
		t.Fatalf("Holder failed: %v", err)
	}
	if holder != nil {
		t.Errorf("holder of free resource = %+v, want nil", holder)
	}

	if ok, _ := manager.Acquire("res", time.Second); !ok {
		t.Fatal("Acquire failed")
	}

	holder, err = manager.Holder("res")
	if err != nil {
		t.Fatalf("Holder failed: %v", err)
	}
	if holder == nil || holder.PID != os.Getpid() {
		t.Errorf("holder = %+v, want self", holder)
	}
}

func TestManager_ReleaseAll(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, nil)
	defer manager.Close()

	for _, res := range []string{"a", "b", "c"} {
		if ok, err := manager.Acquire(res, time.Second); !ok || err != nil {
			t.Fatalf("Acquire(%s) = %v, %v", res, ok, err)
		}
	}

	if err := manager.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}

	held, _ := manager.List()
	if len(held) != 0 {
		t.Errorf("markers remain after ReleaseAll: %v", held)
	}
}

func TestManager_Closed(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, nil)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := manager.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := manager.Acquire("res", time.Second); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_ExternalChangeCallback(t *testing.T) {
	tmpDir := t.TempDir()
	manager := createTestManager(t, tmpDir, nil)
	defer manager.Close()

	target := filepath.Join(tmpDir, "watched.go")
	if err := os.WriteFile(target, []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if ok, err := manager.Acquire(target, time.Second); !ok || err != nil {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	events := make(chan ExternalChangeEvent, 1)
	manager.RegisterCallback(target, func(e ExternalChangeEvent) {
		select {
		case events <- e:
		default:
		}
	})

	// Outside edit while the lock is held.
	if err := os.WriteFile(target, []byte("package main // edited\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.EventType != ChangeWrite {
			t.Errorf("event type = %v, want ChangeWrite", e.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("external change was not observed")
	}
}

func TestMarkerName(t *testing.T) {
	a := markerName("/project/src/main.go")
	b := markerName("/project/src/other.go")

	if a == b {
		t.Error("distinct resources produced identical marker names")
	}
	if a != markerName("/project/src/main.go") {
		t.Error("marker name is not deterministic")
	}
	if filepath.Ext(a) != ".lock" {
		t.Errorf("marker name %q lacks .lock extension", a)
	}
	if !strings.Contains(a, "main.go") {
		t.Errorf("marker name %q should carry the base name for debuggability", a)
	}

	sanitized := markerName("weird name!@#$.go")
	if strings.ContainsAny(sanitized, "!@#$ ") {
		t.Errorf("marker name %q not sanitized", sanitized)
	}
}

func TestMarker_IsStale(t *testing.T) {
	fresh := &Marker{PID: os.Getpid(), Time: time.Now().Unix(), File: "x"}
	old := &Marker{PID: os.Getpid(), Time: time.Now().Add(-time.Hour).Unix(), File: "x"}

	if fresh.IsStale(AgeOnlyProbe{}, time.Minute) {
		t.Error("fresh marker reported stale")
	}
	if !old.IsStale(AgeOnlyProbe{}, time.Minute) {
		t.Error("old marker not reported stale by age")
	}
	if !fresh.IsStale(fakeProbe{alive: false}, time.Minute) {
		t.Error("dead holder not reported stale")
	}
}
