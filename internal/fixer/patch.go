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

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
)

// PatchFixer applies externally supplied unified diffs. Analyzers
// that emit suggested fixes register them here; the fixer then claims
// any diagnostic in a file it holds a patch for.
//
// # Thread Safety
//
// PatchFixer is safe for concurrent use.
type PatchFixer struct {
	mu      sync.RWMutex
	patches map[string]*diff.FileDiff
}

// NewPatchFixer creates an empty PatchFixer.
func NewPatchFixer() *PatchFixer {
	return &PatchFixer{patches: make(map[string]*diff.FileDiff)}
}

// AddPatch parses a unified diff, possibly spanning multiple files,
// and registers each file's hunks. Git-style a/ and b/ prefixes are
// stripped so patch paths match analyzer paths.
func (f *PatchFixer) AddPatch(patch []byte) error {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(string(patch))).ReadAllFiles()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if len(fileDiffs) == 0 {
		return fmt.Errorf("%w: no file sections", ErrInvalidPatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		name = stripDiffPrefix(name)
		if name == "" {
			return fmt.Errorf("%w: file section without a name", ErrInvalidPatch)
		}
		f.patches[name] = fd
	}
	return nil
}

// Files lists the paths with a registered patch, sorted.
func (f *PatchFixer) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	files := make([]string, 0, len(f.patches))
	for name := range f.patches {
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

func (f *PatchFixer) Name() string { return "patch" }

func (f *PatchFixer) CanFix(d analyzer.Diagnostic) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.patches[d.File]
	return ok
}

func (f *PatchFixer) Fix(ctx context.Context, req *Request) (*Rewrite, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	f.mu.RLock()
	fd, ok := f.patches[req.Diagnostic.File]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPatch, req.Diagnostic.File)
	}

	content, err := applyFileDiff(req.Content, fd)
	if err != nil {
		return nil, err
	}
	return &Rewrite{
		Content:     content,
		Description: fmt.Sprintf("applied patch to %s (%d hunks)", req.Diagnostic.File, len(fd.Hunks)),
	}, nil
}

// stripDiffPrefix removes git's a/ and b/ path prefixes.
func stripDiffPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	return strings.TrimPrefix(name, "b/")
}

// applyFileDiff applies a file's hunks to the original content. Every
// context and removal line is verified against the original; any
// mismatch is ErrPatchConflict rather than a silent misapply.
func applyFileDiff(original []byte, fd *diff.FileDiff) ([]byte, error) {
	if fd.NewName == "/dev/null" {
		// A fix engine rewrites files, it never deletes them.
		return nil, fmt.Errorf("%w: patch deletes the file", ErrInvalidPatch)
	}

	origLines := strings.Split(string(original), "\n")
	out := make([]string, 0, len(origLines))
	idx := 0

	for _, hunk := range fd.Hunks {
		start := int(hunk.OrigStartLine) - 1
		if start < idx || start > len(origLines) {
			return nil, fmt.Errorf("%w: hunk at line %d overlaps or exceeds file", ErrPatchConflict, hunk.OrigStartLine)
		}
		out = append(out, origLines[idx:start]...)
		idx = start

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				out = append(out, line[1:])
			case strings.HasPrefix(line, "-"):
				if idx >= len(origLines) || origLines[idx] != line[1:] {
					return nil, fmt.Errorf("%w: removal mismatch at line %d", ErrPatchConflict, idx+1)
				}
				idx++
			case strings.HasPrefix(line, " "):
				if idx >= len(origLines) || origLines[idx] != line[1:] {
					return nil, fmt.Errorf("%w: context mismatch at line %d", ErrPatchConflict, idx+1)
				}
				out = append(out, origLines[idx])
				idx++
			case line == "":
				// Trailing fragment from the split.
			}
		}
	}

	out = append(out, origLines[idx:]...)
	return []byte(strings.Join(out, "\n")), nil
}
