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
	"encoding/json"
	"fmt"
)

// =============================================================================
// NATIVE FORMAT
// =============================================================================

// FormatNative is the analyzer's own document format.
const FormatNative = "fixpoint-json"

// FormatGolangci accepts golangci-lint --out-format=json documents.
const FormatGolangci = "golangci-lint"

// nativeDocument is the fixpoint-json wire format.
type nativeDocument struct {
	Version     string             `json:"version"`
	Diagnostics []nativeDiagnostic `json:"diagnostics"`
}

type nativeDiagnostic struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Column     int    `json:"column,omitempty"`
	Message    string `json:"message"`
	Identifier string `json:"identifier,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Category   string `json:"category,omitempty"`
}

// parseNativeOutput decodes a fixpoint-json document.
//
// Entries without a file or with a negative line are dropped rather
// than failing the whole run; a single malformed entry should not
// discard an otherwise usable result.
func parseNativeOutput(data []byte) ([]Diagnostic, error) {
	var doc nativeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding fixpoint-json: %w", err)
	}

	diags := make([]Diagnostic, 0, len(doc.Diagnostics))
	for _, nd := range doc.Diagnostics {
		if nd.File == "" || nd.Line < 0 || nd.Message == "" {
			continue
		}
		d := Diagnostic{
			File:       nd.File,
			Line:       nd.Line,
			Column:     nd.Column,
			Message:    nd.Message,
			Identifier: nd.Identifier,
			Severity:   ParseSeverity(nd.Severity),
			Category:   Category(nd.Category),
		}
		if d.Category == "" {
			d.Category = DeriveCategory(d.Identifier, d.Message)
		}
		diags = append(diags, d)
	}
	return diags, nil
}

// =============================================================================
// GOLANGCI-LINT FORMAT
// =============================================================================

type golangciOutput struct {
	Issues []golangciIssue `json:"Issues"`
}

type golangciIssue struct {
	FromLinter string           `json:"FromLinter"`
	Text       string           `json:"Text"`
	Severity   string           `json:"Severity"`
	Pos        golangciPosition `json:"Pos"`
}

type golangciPosition struct {
	Filename string `json:"Filename"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

// parseGolangciOutput decodes golangci-lint JSON. The linter name
// doubles as the identifier since golangci has no separate rule id at
// the top level.
func parseGolangciOutput(data []byte) ([]Diagnostic, error) {
	var out golangciOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding golangci-lint output: %w", err)
	}

	diags := make([]Diagnostic, 0, len(out.Issues))
	for _, issue := range out.Issues {
		if issue.Pos.Filename == "" {
			continue
		}
		diags = append(diags, Diagnostic{
			File:       issue.Pos.Filename,
			Line:       issue.Pos.Line,
			Column:     issue.Pos.Column,
			Message:    issue.Text,
			Identifier: issue.FromLinter,
			Severity:   ParseSeverity(issue.Severity),
			Category:   DeriveCategory(issue.FromLinter, issue.Text),
		})
	}
	return diags, nil
}

// =============================================================================
// PARSER REGISTRY
// =============================================================================

// ParserFunc decodes raw analyzer output into diagnostics.
type ParserFunc func(data []byte) ([]Diagnostic, error)

var parserRegistry = map[string]ParserFunc{
	FormatNative:   parseNativeOutput,
	FormatGolangci: parseGolangciOutput,
}

// GetParser returns the parser registered for a format, or nil.
func GetParser(format string) ParserFunc {
	return parserRegistry[format]
}

// RegisterParser adds or replaces the parser for a format. Call during
// init; the registry is not synchronized.
func RegisterParser(format string, parser ParserFunc) {
	parserRegistry[format] = parser
}
