// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fsio provides the file primitives every mutating component of
// the fix engine goes through: root-confined path validation, bounded
// reads, and atomic writes.
//
// Nothing here retries or locks. Callers that need cross-process
// exclusion wrap these calls with the lock manager.
package fsio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize bounds reads of source files (10MB). Generated or
// vendored monsters beyond this are rejected rather than parsed.
const DefaultMaxFileSize = 10 * 1024 * 1024

// =============================================================================
// Path Validation
// =============================================================================

// ValidatePath resolves path against root and confirms the result stays
// inside root.
//
// # Description
//
// This is the security boundary for every file the engine touches. A
// relative path is joined to root; an absolute path is used as given.
// The cleaned result must not escape root via "..".
//
// # Inputs
//
//   - root: Base directory all mutations are confined to.
//   - path: Relative or absolute candidate path.
//
// # Outputs
//
//   - string: Cleaned absolute path on success.
//   - error: ErrInvalidPath or ErrPathEscapes.
func ValidatePath(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if root == "" {
		return "", fmt.Errorf("%w: empty root", ErrInvalidPath)
	}

	cleanBase := filepath.Clean(root)

	fullPath := path
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(cleanBase, fullPath)
	}
	cleanPath := filepath.Clean(fullPath)

	rel, err := filepath.Rel(cleanBase, cleanPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}

	return cleanPath, nil
}

// =============================================================================
// Bounded Reads
// =============================================================================

// ReadFileBounded reads a regular file of at most maxSize bytes.
//
// The size is checked before reading so a runaway file never lands in
// memory. maxSize <= 0 selects DefaultMaxFileSize.
func ReadFileBounded(path string, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)",
			ErrFileTooLarge, path, info.Size(), maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Mtime returns the file's modification time.
func Mtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// =============================================================================
// Atomic Writes
// =============================================================================

// WriteFileAtomic writes data to path so readers never observe a
// partial file.
//
// # Description
//
// The data lands in a temp sibling in the same directory (rename is
// only atomic within a filesystem), is fsynced, then renamed over the
// target. On any failure the temp file is removed and the target is
// untouched.
//
// # Inputs
//
//   - path: Destination path. Parent directory must exist.
//   - data: Full new content.
//   - perm: Mode for the file if it does not already exist.
//
// # Outputs
//
//   - error: Non-nil if the write could not be completed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	// Preserve the existing mode when overwriting.
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// CopyFile copies src to dst preserving the source mode.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, info.Mode())
}

// RemoveIfExists deletes path, treating absence as success.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureDir creates dir (and parents) with 0750 if absent.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0750)
}
