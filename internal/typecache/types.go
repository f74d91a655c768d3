// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package typecache stores type facts discovered while fixing code so
// later passes and later runs skip re-inference.
//
// Two caches live here. The TypeCache maps a subject (type plus
// member) to its inferred type and is invalidated lazily: an entry is
// served only while the source file it was derived from is unchanged.
// The FlowCache records where values flow between type members, so a
// type learned at an origin can be propagated to every destination.
//
// Both persist as single versioned JSON documents and tolerate
// corruption by starting cold; a damaged cache costs speed, never
// correctness.
package typecache

import "strings"

// TypeInfo describes one inferred type.
type TypeInfo struct {
	// DocType is the normalized, documentation-style type name
	// ("int", "Widget[]", "?string").
	DocType string `json:"doc_type"`

	// NativeType is the runtime representation when it differs from
	// DocType ("integer" for "int").
	NativeType string `json:"native_type,omitempty"`
}

// IsZero reports whether no type information is present.
func (t TypeInfo) IsZero() bool {
	return t.DocType == "" && t.NativeType == ""
}

// entry is one persisted cache record.
type entry struct {
	// Info is the inferred type.
	Info TypeInfo `json:"type"`

	// Timestamp is when the fact was recorded, unix seconds. Entries
	// are stale once their source file is newer than this.
	Timestamp int64 `json:"timestamp"`

	// File is the source file the fact was derived from.
	File string `json:"file,omitempty"`
}

// cacheKey builds the canonical "Subject|member" key.
//
// Subjects lose any leading namespace separator so "\App\Widget" and
// "App\Widget" share entries. Members keep their shape: properties as
// "$name", methods as "name()", plain identifiers as-is.
func cacheKey(subject, member string) string {
	return normalizeSubject(subject) + "|" + strings.TrimSpace(member)
}

// normalizeSubject trims whitespace and leading namespace separators.
func normalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = strings.TrimPrefix(s, "\\")
	return s
}
