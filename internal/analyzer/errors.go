// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the analyzer package.
var (
	// ErrAnalyzerNotFound indicates the analyzer binary is not in PATH.
	ErrAnalyzerNotFound = errors.New("analyzer not found")

	// ErrAnalyzerTimeout indicates the analyzer exceeded its deadline.
	ErrAnalyzerTimeout = errors.New("analyzer timeout")

	// ErrAnalyzerFailed indicates the analyzer process crashed or
	// exited without producing output.
	ErrAnalyzerFailed = errors.New("analyzer execution failed")

	// ErrInvalidInput indicates a request that fails validation before
	// any process is spawned.
	ErrInvalidInput = errors.New("invalid analyzer input")

	// ErrUnknownFormat indicates no parser is registered for the
	// configured output format.
	ErrUnknownFormat = errors.New("unknown analyzer output format")

	// ErrParseOutput indicates the analyzer output could not be
	// decoded in the configured format.
	ErrParseOutput = errors.New("failed to parse analyzer output")
)

// RunError wraps a failed analyzer execution with command context.
//
// Thread Safety: Immutable after creation.
type RunError struct {
	// Command is the analyzer binary.
	Command string

	// Err is the underlying error.
	Err error

	// Output holds stderr from the process, when any was captured.
	Output string
}

func (e *RunError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RunError) Unwrap() error {
	return e.Err
}

func newRunError(command string, err error, output string) *RunError {
	return &RunError{Command: command, Err: err, Output: output}
}
