// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock coordinates fixpoint processes through advisory named
// locks backed by marker files.
//
// A lock is held when its marker file exists, was created with
// O_CREATE|O_EXCL, and carries a live flock. Crashed holders leave a
// marker without a process behind it; acquirers reclaim those by
// checking PID liveness and marker age. Contention is reported as
// data, not error: Acquire returns (false, nil) when the wait times
// out, and the caller decides whether that is fatal.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a Manager.
type Config struct {
	// Dir is the marker directory. Created if absent.
	Dir string

	// DefaultTimeout is the wait used when Acquire gets timeout <= 0.
	// It is also the base for marker staleness: markers older than
	// 2x this value are reclaimable even if their holder is alive.
	DefaultTimeout time.Duration

	// PollInterval is the retry cadence while a resource is contended.
	PollInterval time.Duration

	// StaleAge overrides the staleness threshold. Zero selects
	// 2x DefaultTimeout.
	StaleAge time.Duration

	// Probe checks holder liveness. Nil selects SystemProbe. Tests
	// and network-filesystem deployments (where foreign PIDs mean
	// nothing) inject their own.
	Probe LivenessProbe

	// CleanupOnInit sweeps stale markers during NewManager.
	CleanupOnInit bool
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Dir:            ".fixpoint/locks",
		DefaultTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// AgeOnlyProbe treats every PID as alive, so staleness decisions fall
// back to marker age alone. Use it when markers may be written by
// other hosts and local PID checks are meaningless.
type AgeOnlyProbe struct{}

// Alive always reports true.
func (AgeOnlyProbe) Alive(pid int) bool { return true }

// lockEntry tracks one lock held by this manager.
type lockEntry struct {
	file       *os.File
	resource   string
	markerPath string
	marker     *Marker
	watched    bool
}

// Manager owns a marker directory and the locks this process holds.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple
// goroutines.
type Manager struct {
	dir          string
	defaultWait  time.Duration
	pollInterval time.Duration
	staleAge     time.Duration
	probe        LivenessProbe
	locker       FileLocker

	mu     sync.Mutex
	locks  map[string]*lockEntry
	closed bool

	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
	callbacks map[string][]func(ExternalChangeEvent)
}

// NewManager creates a lock manager rooted at config.Dir.
//
// # Description
//
// Ensures the marker directory exists and starts the external-change
// watcher. With CleanupOnInit, markers from dead or expired holders
// are swept before the manager is returned.
//
// # Inputs
//
//   - config: Manager configuration. Use DefaultConfig() for defaults.
//
// # Outputs
//
//   - *Manager: Ready-to-use lock manager.
//   - error: Non-nil if the marker directory or watcher cannot be set up.
func NewManager(config Config) (*Manager, error) {
	if config.Dir == "" {
		config.Dir = DefaultConfig().Dir
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.StaleAge <= 0 {
		config.StaleAge = 2 * config.DefaultTimeout
	}
	if config.Probe == nil {
		config.Probe = SystemProbe{}
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.Dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	m := &Manager{
		dir:          config.Dir,
		defaultWait:  config.DefaultTimeout,
		pollInterval: config.PollInterval,
		staleAge:     config.StaleAge,
		probe:        config.Probe,
		locker:       newFileLocker(),
		locks:        make(map[string]*lockEntry),
		watcher:      watcher,
		callbacks:    make(map[string][]func(ExternalChangeEvent)),
	}

	go m.watchLoop()

	if config.CleanupOnInit {
		cleaned, err := m.CleanupStale()
		if err != nil {
			slog.Warn("Failed to cleanup stale locks on init",
				"error", err)
		} else if cleaned > 0 {
			slog.Info("Cleaned up stale locks on init",
				"count", cleaned)
		}
	}

	return m, nil
}

// Acquire takes the named exclusive lock, waiting up to timeout.
//
// # Description
//
// Tries to create the marker with O_CREATE|O_EXCL and flock it; both
// must succeed. While the resource is contended the manager polls at
// PollInterval, reclaiming the marker whenever its holder is dead or
// the marker older than the stale threshold. The full timeout is
// honored: the loop runs until the deadline, not for a fixed retry
// count.
//
// # Inputs
//
//   - resource: Opaque lock name. File locks pass the absolute path;
//     cache locks pass a short name like "typecache".
//   - timeout: Maximum wait. <= 0 selects the manager default.
//
// # Outputs
//
//   - bool: True if the lock was acquired. False with nil error means
//     the wait timed out while another process held the lock.
//   - error: Non-nil only for system failures (not contention).
func (m *Manager) Acquire(resource string, timeout time.Duration) (bool, error) {
	if resource == "" {
		return false, ErrInvalidResource
	}
	if timeout <= 0 {
		timeout = m.defaultWait
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrManagerClosed
	}
	if _, ok := m.locks[resource]; ok {
		// Already held by this manager.
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		acquired, holder, err := m.tryAcquire(resource)
		if err != nil {
			lockAcquisitionsTotal.WithLabelValues(outcomeError).Inc()
			return false, err
		}
		if acquired {
			lockAcquisitionsTotal.WithLabelValues(outcomeAcquired).Inc()
			lockWaitDuration.Observe(time.Since(start).Seconds())
			return true, nil
		}

		if holder != nil && holder.IsStale(m.probe, m.staleAge) {
			slog.Warn("Reclaiming stale lock",
				"resource", resource,
				"holder_pid", holder.PID,
				"age", holder.Age().Round(time.Second))
			_ = os.Remove(m.markerPath(resource))
			lockStaleReclaimsTotal.Inc()
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			lockAcquisitionsTotal.WithLabelValues(outcomeTimeout).Inc()
			lockWaitDuration.Observe(time.Since(start).Seconds())
			return false, nil
		}
		sleep := m.pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		time.Sleep(sleep)
	}
}

// tryAcquire makes a single, non-blocking attempt.
//
// Returns the current holder's marker on contention so the caller can
// judge staleness. A nil holder with acquired=false means the marker
// was unreadable or vanished mid-check; both resolve on retry.
func (m *Manager) tryAcquire(resource string) (bool, *Marker, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return false, nil, fmt.Errorf("creating lock directory: %w", err)
	}

	markerPath := m.markerPath(resource)

	f, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return false, nil, fmt.Errorf("creating lock marker %s: %w", markerPath, err)
		}

		holder, rerr := readMarker(markerPath)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				// Lost a race with a release; next attempt decides.
				return false, nil, nil
			}
			// Corrupt marker. Its mtime is the only age signal left.
			if info, serr := os.Stat(markerPath); serr == nil {
				if time.Since(info.ModTime()) > m.staleAge {
					slog.Warn("Removing corrupt lock marker",
						"path", markerPath,
						"error", rerr)
					_ = os.Remove(markerPath)
					lockStaleReclaimsTotal.Inc()
				}
			}
			return false, nil, nil
		}
		return false, holder, nil
	}

	// We created the marker; the flock on it completes the claim.
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		_ = os.Remove(markerPath)
		return false, nil, fmt.Errorf("locking marker %s: %w", markerPath, err)
	}

	marker := &Marker{
		PID:  os.Getpid(),
		Time: time.Now().Unix(),
		File: resource,
	}
	data, err := encodeMarker(marker)
	if err == nil {
		_, err = f.Write(data)
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		_ = os.Remove(markerPath)
		return false, nil, fmt.Errorf("writing lock marker: %w", err)
	}

	entry := &lockEntry{
		file:       f,
		resource:   resource,
		markerPath: markerPath,
		marker:     marker,
	}

	// Watch file resources for external edits while we hold the lock.
	if info, serr := os.Stat(resource); serr == nil && info.Mode().IsRegular() {
		m.addWatch(resource)
		entry.watched = true
	}

	m.mu.Lock()
	m.locks[resource] = entry
	m.mu.Unlock()

	slog.Debug("Acquired lock",
		"resource", resource,
		"marker", filepath.Base(markerPath))

	return true, nil, nil
}

// Release gives up a lock held by this manager.
//
// # Outputs
//
//   - error: ErrLockNotHeld if this manager does not hold the resource.
//     Unlock and marker-removal failures are logged, not returned; the
//     lock is considered released either way.
func (m *Manager) Release(resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[resource]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseEntry(entry)
}

// releaseEntry releases one entry. Caller holds m.mu.
func (m *Manager) releaseEntry(entry *lockEntry) error {
	if entry.watched {
		m.removeWatch(entry.resource)
	}

	if err := m.locker.Unlock(entry.file); err != nil {
		slog.Warn("Failed to unlock marker",
			"resource", entry.resource,
			"error", err)
	}
	entry.file.Close()

	if err := os.Remove(entry.markerPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock marker",
			"path", entry.markerPath,
			"error", err)
	}

	delete(m.locks, entry.resource)

	slog.Debug("Released lock",
		"resource", entry.resource)

	return nil
}

// ReleaseAll releases every lock held by this manager. Called on
// shutdown and by the transaction backstop.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, entry := range m.locks {
		if err := m.releaseEntry(entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Holder reports the live holder of a resource, nil if unheld or the
// marker is stale.
func (m *Manager) Holder(resource string) (*Marker, error) {
	m.mu.Lock()
	if entry, ok := m.locks[resource]; ok {
		marker := *entry.marker
		m.mu.Unlock()
		return &marker, nil
	}
	m.mu.Unlock()

	marker, err := readMarker(m.markerPath(resource))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock marker: %w", err)
	}
	if marker.IsStale(m.probe, m.staleAge) {
		return nil, nil
	}
	return marker, nil
}

// Held describes one marker found in the lock directory.
type Held struct {
	// Resource is the protected resource from the marker.
	Resource string `json:"resource"`

	// PID of the recorded holder.
	PID int `json:"pid"`

	// Age of the marker.
	Age time.Duration `json:"age"`

	// Stale reports whether the marker is reclaimable.
	Stale bool `json:"stale"`
}

// List returns every marker currently in the lock directory,
// including stale ones. Powers `fixpoint locks list`.
func (m *Manager) List() ([]Held, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	var held []Held
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		marker, err := readMarker(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		held = append(held, Held{
			Resource: marker.File,
			PID:      marker.PID,
			Age:      marker.Age(),
			Stale:    marker.IsStale(m.probe, m.staleAge),
		})
	}
	return held, nil
}

// CleanupStale removes markers whose holders are dead or expired.
//
// # Outputs
//
//   - int: Number of markers removed.
//   - error: Non-nil on failure to scan the directory.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}

		markerPath := filepath.Join(m.dir, entry.Name())
		marker, err := readMarker(markerPath)
		if err != nil {
			// Corrupt markers age out on mtime.
			if info, serr := os.Stat(markerPath); serr == nil &&
				time.Since(info.ModTime()) > m.staleAge {
				if os.Remove(markerPath) == nil {
					cleaned++
					lockStaleReclaimsTotal.Inc()
				}
			}
			continue
		}

		if marker.IsStale(m.probe, m.staleAge) {
			slog.Info("Cleaning up stale lock",
				"resource", marker.File,
				"pid", marker.PID,
				"age", marker.Age().Round(time.Second))
			if err := os.Remove(markerPath); err != nil {
				slog.Warn("Failed to remove stale lock",
					"path", markerPath,
					"error", err)
			} else {
				cleaned++
				lockStaleReclaimsTotal.Inc()
			}
		}
	}

	return cleaned, nil
}

// Close releases all locks and stops the watcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var firstErr error
	for _, entry := range m.locks {
		if err := m.releaseEntry(entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.mu.Unlock()

	if err := m.watcher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// markerPath maps a resource to its marker file.
func (m *Manager) markerPath(resource string) string {
	return filepath.Join(m.dir, markerName(resource))
}
