// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixer

import "errors"

// Sentinel errors for the fixer package.
var (
	// ErrNilRequest indicates Fix was called without a request.
	ErrNilRequest = errors.New("nil fix request")

	// ErrLineOutOfRange indicates the diagnostic line does not exist
	// in the file content.
	ErrLineOutOfRange = errors.New("diagnostic line out of range")

	// ErrInvalidPatch indicates a patch could not be parsed as a
	// unified diff.
	ErrInvalidPatch = errors.New("invalid patch")

	// ErrPatchConflict indicates a patch hunk no longer matches the
	// file content it targets.
	ErrPatchConflict = errors.New("patch does not apply")

	// ErrNoPatch indicates no patch is registered for the file.
	ErrNoPatch = errors.New("no patch registered for file")
)
