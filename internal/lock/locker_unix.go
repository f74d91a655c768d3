// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package lock

import (
	"os"
	"syscall"
)

// UnixFileLocker implements FileLocker using flock(2).
//
// # Description
//
// Advisory locks that are:
// - Process-scoped (inherited by child processes)
// - Released on file close or process exit
// - Non-blocking via LOCK_NB
//
// Release-on-exit is what makes crashed holders reclaimable: the flock
// vanishes with the process and only the marker file remains.
type UnixFileLocker struct{}

// Lock acquires an exclusive lock with LOCK_EX|LOCK_NB.
func (l *UnixFileLocker) Lock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return ErrFileLocked
		}
		return err
	}
	return nil
}

// Unlock releases the lock with LOCK_UN.
func (l *UnixFileLocker) Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// isProcessAlive checks process existence with signal 0.
//
// Signal 0 performs permission and existence checks without delivering
// anything. EPERM still means the process exists.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// newPlatformLocker returns the Unix locker.
func newPlatformLocker() FileLocker {
	return &UnixFileLocker{}
}
