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
	"os"
)

// FileLocker abstracts platform-specific file locking.
//
// # Description
//
// Unix uses flock(2), Windows uses LockFileEx. Both paths are
// non-blocking: a held lock surfaces as ErrFileLocked immediately and
// the manager's acquire loop handles the waiting.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
// Locking the same handle from multiple goroutines is undefined.
type FileLocker interface {
	// Lock acquires an exclusive, non-blocking lock on the handle.
	// Returns ErrFileLocked if another process holds it.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call on an unlocked handle.
	Unlock(f *os.File) error
}

// LivenessProbe answers whether a PID refers to a running process.
//
// The probe is injectable so staleness tests can simulate dead holders
// without forking real processes.
type LivenessProbe interface {
	Alive(pid int) bool
}

// SystemProbe checks liveness against the real process table.
type SystemProbe struct{}

// Alive reports whether the PID exists. Platform-specific; on Unix it
// is signal 0, on Windows OpenProcess + exit-code check.
func (SystemProbe) Alive(pid int) bool {
	return isProcessAlive(pid)
}

// newFileLocker returns the platform FileLocker.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}
