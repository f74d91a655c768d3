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
	"errors"
	"fmt"
)

// Sentinel errors for lock operations.
var (
	// ErrFileLocked indicates the marker is held by another process.
	ErrFileLocked = errors.New("resource is locked by another process")

	// ErrLockNotHeld indicates a release of a lock this manager never acquired.
	ErrLockNotHeld = errors.New("lock not held by this process")

	// ErrInvalidResource indicates an empty or unusable resource name.
	ErrInvalidResource = errors.New("invalid resource name")

	// ErrManagerClosed indicates use after Close.
	ErrManagerClosed = errors.New("lock manager is closed")

	// ErrExternalModification indicates a locked file changed under us.
	ErrExternalModification = errors.New("file was modified externally while locked")
)

// HeldError reports a contention observed while inspecting a resource.
//
// # Description
//
// Wraps ErrFileLocked with the current holder's marker so callers can
// report who owns the lock (PID, age) instead of a bare failure.
type HeldError struct {
	Resource string
	Holder   *Marker
	Err      error
}

// Error returns a human-readable error message.
func (e *HeldError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("resource %s is locked by PID %d (age %s): %v",
			e.Resource, e.Holder.PID, e.Holder.Age().Truncate(100_000_000), e.Err)
	}
	return fmt.Sprintf("resource %s is locked: %v", e.Resource, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HeldError) Unwrap() error {
	return e.Err
}

// ExternalModificationError carries the change kind observed on a
// locked file.
type ExternalModificationError struct {
	Path       string
	ChangeType ChangeType
}

// Error returns a human-readable error message.
func (e *ExternalModificationError) Error() string {
	return fmt.Sprintf("file %s was %s externally while locked", e.Path, e.ChangeType)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExternalModificationError) Unwrap() error {
	return ErrExternalModification
}
