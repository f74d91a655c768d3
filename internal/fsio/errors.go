// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fsio

import "errors"

var (
	// ErrInvalidPath indicates a path that is empty or not resolvable.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathEscapes indicates a path that resolves outside its root.
	ErrPathEscapes = errors.New("path escapes root directory")

	// ErrFileTooLarge indicates a file exceeding the read bound.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrNotRegularFile indicates a directory, symlink target mismatch,
	// or device where a regular file was required.
	ErrNotRegularFile = errors.New("not a regular file")
)
