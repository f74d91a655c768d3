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
	"strings"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
)

// messageMentions reports whether the diagnostic's message or
// identifier contains any of the needles, case-insensitively.
func messageMentions(d analyzer.Diagnostic, needles ...string) bool {
	text := strings.ToLower(d.Identifier + " " + d.Message)
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// =============================================================================
// TRAILING WHITESPACE
// =============================================================================

// TrailingWhitespaceFixer strips trailing spaces and tabs from the
// diagnostic's line, or from every line for file-scoped findings.
type TrailingWhitespaceFixer struct{}

// NewTrailingWhitespaceFixer creates the fixer.
func NewTrailingWhitespaceFixer() *TrailingWhitespaceFixer {
	return &TrailingWhitespaceFixer{}
}

func (f *TrailingWhitespaceFixer) Name() string { return "trailing-whitespace" }

func (f *TrailingWhitespaceFixer) CanFix(d analyzer.Diagnostic) bool {
	return messageMentions(d, "trailing whitespace", "trailing_whitespace", "trailing spaces")
}

func (f *TrailingWhitespaceFixer) Fix(ctx context.Context, req *Request) (*Rewrite, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	lines := strings.Split(string(req.Content), "\n")

	line := req.Diagnostic.Line
	if line > 0 {
		if line > len(lines) {
			return nil, fmt.Errorf("%w: line %d of %d", ErrLineOutOfRange, line, len(lines))
		}
		lines[line-1] = strings.TrimRight(lines[line-1], " \t")
	} else {
		// File-scoped finding, trim everywhere.
		for i := range lines {
			lines[i] = strings.TrimRight(lines[i], " \t")
		}
	}

	return &Rewrite{
		Content:     []byte(strings.Join(lines, "\n")),
		Description: describeLine("removed trailing whitespace", line),
	}, nil
}

// =============================================================================
// FINAL NEWLINE
// =============================================================================

// FinalNewlineFixer ensures the file ends with exactly one newline.
type FinalNewlineFixer struct{}

// NewFinalNewlineFixer creates the fixer.
func NewFinalNewlineFixer() *FinalNewlineFixer {
	return &FinalNewlineFixer{}
}

func (f *FinalNewlineFixer) Name() string { return "final-newline" }

func (f *FinalNewlineFixer) CanFix(d analyzer.Diagnostic) bool {
	return messageMentions(d, "final newline", "newline at end", "final_newline", "eof newline")
}

func (f *FinalNewlineFixer) Fix(ctx context.Context, req *Request) (*Rewrite, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	content := string(req.Content)
	if content == "" {
		// An empty file is left alone; adding a newline would make it
		// a one-line file.
		return &Rewrite{Content: req.Content, Description: "no final newline change needed"}, nil
	}

	fixed := strings.TrimRight(content, "\n") + "\n"
	return &Rewrite{
		Content:     []byte(fixed),
		Description: "normalized file to end with a single newline",
	}, nil
}

// =============================================================================
// INDENTATION
// =============================================================================

// IndentFixer normalizes leading whitespace to the file's dominant
// style: tabs when tab-led lines outnumber space-led lines, spaces
// otherwise.
type IndentFixer struct {
	tabWidth int
}

// NewIndentFixer creates the fixer with a tab width of 4.
func NewIndentFixer() *IndentFixer {
	return &IndentFixer{tabWidth: 4}
}

func (f *IndentFixer) Name() string { return "indent-style" }

func (f *IndentFixer) CanFix(d analyzer.Diagnostic) bool {
	return messageMentions(d, "mixed indent", "indentation", "indent style", "tabs and spaces")
}

func (f *IndentFixer) Fix(ctx context.Context, req *Request) (*Rewrite, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	lines := strings.Split(string(req.Content), "\n")

	tabs, spaces := 0, 0
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "\t"):
			tabs++
		case strings.HasPrefix(line, " "):
			spaces++
		}
	}

	spaceUnit := strings.Repeat(" ", f.tabWidth)
	toTabs := tabs >= spaces
	for i, line := range lines {
		indent, rest := splitIndent(line)
		if indent == "" {
			continue
		}
		if toTabs {
			indent = strings.ReplaceAll(indent, spaceUnit, "\t")
		} else {
			indent = strings.ReplaceAll(indent, "\t", spaceUnit)
		}
		lines[i] = indent + rest
	}

	style := "spaces"
	if toTabs {
		style = "tabs"
	}
	return &Rewrite{
		Content:     []byte(strings.Join(lines, "\n")),
		Description: fmt.Sprintf("normalized indentation to %s", style),
	}, nil
}

// splitIndent separates a line's leading whitespace from the rest.
func splitIndent(line string) (indent, rest string) {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' {
			return line[:i], line[i:]
		}
	}
	return line, ""
}

func describeLine(what string, line int) string {
	if line > 0 {
		return fmt.Sprintf("%s on line %d", what, line)
	}
	return what
}
