// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety verifies that a rewritten file is structurally intact
// before it replaces the original. The critical checks are syntactic
// validity and declaration preservation; everything else is advisory
// and never blocks a fix.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Severity classifies a violation. Critical violations block the
// rewrite; advisory violations are reported and logged only.
type Severity int

const (
	SeverityAdvisory Severity = iota
	SeverityCritical
)

// String returns "advisory" or "critical".
func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "advisory"
}

// Violation codes.
const (
	// CodeSyntax: the rewritten content no longer parses.
	CodeSyntax = "syntax"

	// CodeDeclarations: the rewrite changed the number of function,
	// method, type, or class declarations.
	CodeDeclarations = "declarations"

	// CodeSuppression: the rewrite introduces an analyzer suppression
	// marker, silencing a finding instead of fixing it.
	CodeSuppression = "suppression"

	// CodeIndentation: the rewrite mixes an indentation style into a
	// file that was uniform before.
	CodeIndentation = "indentation"

	// CodeUnverifiable: no grammar is registered for the language, or
	// the original content did not parse, so structural checks were
	// skipped.
	CodeUnverifiable = "unverifiable"
)

// Violation is one finding from a safety check.
type Violation struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`

	// Line is the 1-indexed location of the first offending node,
	// when the check can attribute one. Zero otherwise.
	Line int `json:"line,omitempty"`
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("[%s] %s: %s (line %d)", v.Severity, v.Code, v.Message, v.Line)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Code, v.Message)
}

// maxSyntaxErrors bounds error collection on heavily malformed input.
const maxSyntaxErrors = 50

// Option configures a Checker.
type Option func(*Checker)

// WithMaxContentSize sets the size above which structural checks are
// skipped as unverifiable.
func WithMaxContentSize(bytes int) Option {
	return func(c *Checker) {
		if bytes > 0 {
			c.maxContentSize = bytes
		}
	}
}

// Checker runs structural safety checks over rewrites.
//
// # Thread Safety
//
// Checker is safe for concurrent use. Each check builds its own
// tree-sitter parser.
type Checker struct {
	maxContentSize int
}

// NewChecker creates a Checker with a 10MB content limit by default.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{maxContentSize: 10 * 1024 * 1024}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check compares a rewrite against the original content.
//
// Description:
//
//	Runs, in order: syntactic validity of the rewrite, declaration
//	count preservation, then the advisory heuristics (suppression
//	markers, indentation drift). Unknown languages and oversized
//	content produce a single advisory "unverifiable" violation rather
//	than an error: the caller decides how much risk to accept.
//
// Inputs:
//
//	ctx - bounds tree-sitter parsing.
//	original - file content before the rewrite.
//	rewritten - candidate content after the rewrite.
//	lang - language name as returned by DetectLanguage.
//
// Outputs:
//
//	[]Violation - empty when nothing was found. Critical entries mean
//	the rewrite must not be applied.
func (c *Checker) Check(ctx context.Context, original, rewritten []byte, lang string) []Violation {
	var violations []Violation

	spec, known := languages[lang]
	switch {
	case !known:
		violations = append(violations, Violation{
			Severity: SeverityAdvisory,
			Code:     CodeUnverifiable,
			Message:  fmt.Sprintf("no grammar registered for language %q, structural checks skipped", lang),
		})
	case len(original) > c.maxContentSize || len(rewritten) > c.maxContentSize:
		violations = append(violations, Violation{
			Severity: SeverityAdvisory,
			Code:     CodeUnverifiable,
			Message:  fmt.Sprintf("content exceeds %d bytes, structural checks skipped", c.maxContentSize),
		})
	default:
		violations = append(violations, c.structural(ctx, spec, original, rewritten)...)
	}

	violations = append(violations, suppressionFindings(spec, original, rewritten)...)
	if v, drifted := indentationFinding(original, rewritten); drifted {
		violations = append(violations, v)
	}

	for _, v := range violations {
		violationsTotal.WithLabelValues(v.Code).Inc()
		if v.Severity == SeverityAdvisory {
			slog.Debug("advisory safety violation",
				"code", v.Code,
				"message", v.Message)
		}
	}
	return violations
}

// IsSafe reports whether the rewrite may be applied: true iff Check
// found no critical violation. The full violation list is returned
// either way so advisories can be surfaced.
func (c *Checker) IsSafe(ctx context.Context, original, rewritten []byte, lang string) (bool, []Violation) {
	violations := c.Check(ctx, original, rewritten, lang)
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			checksTotal.WithLabelValues(verdictUnsafe).Inc()
			return false, violations
		}
	}
	checksTotal.WithLabelValues(verdictSafe).Inc()
	return true, violations
}

// structural runs the grammar-backed checks: the rewrite must parse,
// and must declare exactly as many functions, methods, types, and
// classes as the original.
func (c *Checker) structural(ctx context.Context, spec languageSpec, original, rewritten []byte) []Violation {
	var violations []Violation

	afterTree, err := parse(ctx, spec.language, rewritten)
	if err != nil {
		return append(violations, Violation{
			Severity: SeverityCritical,
			Code:     CodeSyntax,
			Message:  fmt.Sprintf("parsing rewritten content: %v", err),
		})
	}
	defer afterTree.Close()

	afterRoot := afterTree.RootNode()
	if afterRoot.HasError() {
		count, firstLine := syntaxErrorSummary(afterRoot)
		return append(violations, Violation{
			Severity: SeverityCritical,
			Code:     CodeSyntax,
			Message:  fmt.Sprintf("rewritten content has %d syntax error(s)", count),
			Line:     firstLine,
		})
	}

	beforeTree, err := parse(ctx, spec.language, original)
	if err != nil {
		return append(violations, Violation{
			Severity: SeverityAdvisory,
			Code:     CodeUnverifiable,
			Message:  fmt.Sprintf("parsing original content: %v", err),
		})
	}
	defer beforeTree.Close()

	beforeRoot := beforeTree.RootNode()
	if beforeRoot.HasError() {
		// The baseline is already broken, so declaration counts mean
		// nothing. The rewrite parsing cleanly is still verified above.
		return append(violations, Violation{
			Severity: SeverityAdvisory,
			Code:     CodeUnverifiable,
			Message:  "original content does not parse cleanly, declaration comparison skipped",
		})
	}

	before := countDeclarations(beforeRoot, spec.declKinds)
	after := countDeclarations(afterRoot, spec.declKinds)
	if before != after {
		violations = append(violations, Violation{
			Severity: SeverityCritical,
			Code:     CodeDeclarations,
			Message:  fmt.Sprintf("declaration count changed from %d to %d", before, after),
		})
	}
	return violations
}

func parse(ctx context.Context, lang *sitter.Language, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	return parser.ParseCtx(ctx, nil, content)
}

// countDeclarations walks the tree iteratively and counts named nodes
// whose type is in kinds.
func countDeclarations(root *sitter.Node, kinds map[string]struct{}) int {
	count := 0
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := kinds[node.Type()]; ok {
			count++
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return count
}

// syntaxErrorSummary counts ERROR and MISSING nodes and reports the
// line of the first one, capped at maxSyntaxErrors.
func syntaxErrorSummary(root *sitter.Node) (count, firstLine int) {
	stack := []*sitter.Node{root}
	for len(stack) > 0 && count < maxSyntaxErrors {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.IsError() || node.IsMissing() {
			count++
			line := int(node.StartPoint().Row) + 1
			if firstLine == 0 || line < firstLine {
				firstLine = line
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			stack = append(stack, node.Child(i))
		}
	}
	return count, firstLine
}

// suppressionFindings reports markers that appear more often in the
// rewrite than in the original. A fix that adds "//nolint" or
// "@ts-ignore" is silencing the analyzer, not fixing the finding.
func suppressionFindings(spec languageSpec, original, rewritten []byte) []Violation {
	var violations []Violation
	before := string(original)
	after := string(rewritten)
	for _, marker := range spec.suppressions {
		if strings.Count(after, marker) > strings.Count(before, marker) {
			violations = append(violations, Violation{
				Severity: SeverityAdvisory,
				Code:     CodeSuppression,
				Message:  fmt.Sprintf("rewrite introduces suppression marker %q", marker),
			})
		}
	}
	return violations
}

// indentationFinding reports a rewrite that introduces space-led lines
// into a purely tab-indented file or tab-led lines into a purely
// space-indented one.
func indentationFinding(original, rewritten []byte) (Violation, bool) {
	beforeTabs, beforeSpaces := indentCounts(original)
	afterTabs, afterSpaces := indentCounts(rewritten)

	switch {
	case beforeTabs > 0 && beforeSpaces == 0 && afterSpaces > 0:
		return Violation{
			Severity: SeverityAdvisory,
			Code:     CodeIndentation,
			Message:  fmt.Sprintf("space-indented lines introduced into a tab-indented file (%d)", afterSpaces),
		}, true
	case beforeSpaces > 0 && beforeTabs == 0 && afterTabs > 0:
		return Violation{
			Severity: SeverityAdvisory,
			Code:     CodeIndentation,
			Message:  fmt.Sprintf("tab-indented lines introduced into a space-indented file (%d)", afterTabs),
		}, true
	}
	return Violation{}, false
}

func indentCounts(content []byte) (tabs, spaces int) {
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "\t") {
			tabs++
		} else if strings.HasPrefix(line, " ") {
			spaces++
		}
	}
	return tabs, spaces
}
