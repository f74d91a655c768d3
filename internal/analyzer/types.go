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
	"fmt"
	"strings"
	"time"
)

// Severity is the analyzer's own ranking of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity normalizes a severity string. Unknown values map to
// SeverityWarning since analyzers frequently omit the field.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal":
		return SeverityError
	case "info", "information", "note", "hint":
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Category groups diagnostics by the kind of defect they describe.
// Fixers register against categories rather than raw message text.
type Category string

const (
	CategoryType     Category = "type"
	CategoryStyle    Category = "style"
	CategoryDeadCode Category = "dead_code"
	CategoryDocs     Category = "docs"
	CategoryUnknown  Category = "unknown"
)

// Diagnostic is one finding from an analyzer run. Immutable once
// produced.
type Diagnostic struct {
	// File is the path the analyzer reported, as reported.
	File string `json:"file"`

	// Line is 1-indexed. Zero when the finding is file-scoped.
	Line int `json:"line"`

	// Column is 0-indexed when present.
	Column int `json:"column,omitempty"`

	// Message is the human-readable finding text.
	Message string `json:"message"`

	// Identifier is the analyzer's machine id for the rule, when it
	// has one (e.g. "missing.return.type").
	Identifier string `json:"identifier,omitempty"`

	Severity Severity `json:"severity"`
	Category Category `json:"category"`
}

// Key identifies a diagnostic across passes: same file, line, and rule
// means the same finding.
func (d Diagnostic) Key() string {
	id := d.Identifier
	if id == "" {
		id = d.Message
	}
	return fmt.Sprintf("%s:%d:%s", d.File, d.Line, id)
}

func (d Diagnostic) String() string {
	if d.Identifier != "" {
		return fmt.Sprintf("%s:%d: %s [%s]", d.File, d.Line, d.Message, d.Identifier)
	}
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
}

// Result is the output of one analyzer run.
type Result struct {
	// Diagnostics in the order the analyzer reported them.
	Diagnostics []Diagnostic `json:"diagnostics"`

	// Command is the binary that produced the result.
	Command string `json:"command"`

	// Duration of the analyzer process.
	Duration time.Duration `json:"duration"`
}

// Clean reports whether the run produced no diagnostics.
func (r *Result) Clean() bool {
	return len(r.Diagnostics) == 0
}

// CountBySeverity tallies diagnostics per severity.
func (r *Result) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, d := range r.Diagnostics {
		counts[d.Severity]++
	}
	return counts
}

// Files returns the distinct files with at least one diagnostic, in
// first-seen order.
func (r *Result) Files() []string {
	seen := make(map[string]struct{})
	var files []string
	for _, d := range r.Diagnostics {
		if _, dup := seen[d.File]; dup {
			continue
		}
		seen[d.File] = struct{}{}
		files = append(files, d.File)
	}
	return files
}

// DeriveCategory classifies a diagnostic from its identifier and
// message. The identifier is checked first since it is the stabler
// signal.
func DeriveCategory(identifier, message string) Category {
	text := strings.ToLower(identifier + " " + message)
	switch {
	case containsAny(text, "type", "typehint", "return-type", "coercion", "cast"):
		return CategoryType
	case containsAny(text, "unused", "never used", "dead", "unreachable"):
		return CategoryDeadCode
	case containsAny(text, "whitespace", "indent", "newline", "trailing", "format", "spacing"):
		return CategoryStyle
	case containsAny(text, "docblock", "doc comment", "docstring", "missing doc", "comment"):
		return CategoryDocs
	default:
		return CategoryUnknown
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
