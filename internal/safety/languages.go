// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec describes how to verify one language: its grammar, the
// node types that count as declarations, and the analyzer-suppression
// markers a rewrite should not introduce.
type languageSpec struct {
	language     *sitter.Language
	declKinds    map[string]struct{}
	suppressions []string
}

func kindSet(kinds ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

var languages = map[string]languageSpec{
	"go": {
		language: golang.GetLanguage(),
		declKinds: kindSet(
			"function_declaration",
			"method_declaration",
			"type_spec",
		),
		suppressions: []string{"//nolint"},
	},
	"python": {
		language: python.GetLanguage(),
		declKinds: kindSet(
			"function_definition",
			"class_definition",
		),
		suppressions: []string{"# type: ignore", "# noqa"},
	},
	"javascript": {
		language: javascript.GetLanguage(),
		declKinds: kindSet(
			"function_declaration",
			"generator_function_declaration",
			"class_declaration",
			"method_definition",
		),
		suppressions: []string{"eslint-disable"},
	},
	"typescript": {
		language: typescript.GetLanguage(),
		declKinds: kindSet(
			"function_declaration",
			"generator_function_declaration",
			"class_declaration",
			"abstract_class_declaration",
			"method_definition",
			"interface_declaration",
			"type_alias_declaration",
			"enum_declaration",
		),
		suppressions: []string{"@ts-ignore", "@ts-nocheck", "eslint-disable"},
	},
}

// DetectLanguage determines the verification language from a file
// extension. Returns "" when the extension is not recognized.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	default:
		return ""
	}
}

// SupportedLanguages lists the languages with a registered grammar,
// sorted for stable output.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
