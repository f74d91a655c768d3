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
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies an external modification to a locked file.
type ChangeType int

const (
	// ChangeWrite indicates the file content was modified.
	ChangeWrite ChangeType = iota

	// ChangeDelete indicates the file was removed.
	ChangeDelete

	// ChangeRename indicates the file was renamed away.
	ChangeRename
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "written"
	case ChangeDelete:
		return "deleted"
	case ChangeRename:
		return "renamed"
	default:
		return "changed"
	}
}

// ExternalChangeEvent describes an outside modification observed on a
// file while this manager holds its lock. Advisory locks cannot stop
// editors and other tools from writing; the watch at least surfaces it.
type ExternalChangeEvent struct {
	Path      string
	EventType ChangeType
}

// RegisterCallback registers a callback invoked when the locked file
// at filePath changes externally. Multiple callbacks per file are
// allowed.
func (m *Manager) RegisterCallback(filePath string, callback func(ExternalChangeEvent)) {
	absPath, _ := filepath.Abs(filePath)

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	m.callbacks[absPath] = append(m.callbacks[absPath], callback)
}

// addWatch adds a file to the watcher.
func (m *Manager) addWatch(path string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if err := m.watcher.Add(path); err != nil {
		slog.Warn("Failed to watch locked file",
			"path", path,
			"error", err)
	}
}

// removeWatch removes a file from the watcher and drops its callbacks.
func (m *Manager) removeWatch(path string) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	_ = m.watcher.Remove(path)
	delete(m.callbacks, path)
}

// watchLoop drains fsnotify events until the watcher closes.
func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error",
				"error", err)
		}
	}
}

// handleWatchEvent processes one fsnotify event.
func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	var changeType ChangeType
	switch {
	case event.Op&fsnotify.Write != 0:
		changeType = ChangeWrite
	case event.Op&fsnotify.Remove != 0:
		changeType = ChangeDelete
	case event.Op&fsnotify.Rename != 0:
		changeType = ChangeRename
	default:
		return
	}

	absPath, _ := filepath.Abs(event.Name)

	m.mu.Lock()
	_, weHoldLock := m.locks[absPath]
	m.mu.Unlock()

	if !weHoldLock {
		return
	}

	slog.Warn("External modification detected on locked file",
		"path", absPath,
		"event", changeType.String())

	m.watcherMu.Lock()
	callbacks := m.callbacks[absPath]
	m.watcherMu.Unlock()

	changeEvent := ExternalChangeEvent{
		Path:      absPath,
		EventType: changeType,
	}

	for _, cb := range callbacks {
		cb(changeEvent)
	}
}
