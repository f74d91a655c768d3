// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Marker is the on-disk record of a held lock.
//
// The JSON shape is a cross-process contract; other fixpoint instances
// (and people debugging with cat) read these files:
//
//	{"pid": 12345, "time": 1755900000, "file": "typecache"}
type Marker struct {
	// PID of the process holding the lock.
	PID int `json:"pid"`

	// Time the lock was taken, unix seconds.
	Time int64 `json:"time"`

	// File is the resource the lock protects. For file resources this
	// is the absolute path; for caches a short name like "typecache".
	File string `json:"file"`
}

// Age returns how long the marker has existed.
func (m *Marker) Age() time.Duration {
	return time.Since(time.Unix(m.Time, 0))
}

// IsStale reports whether the marker can be reclaimed: its holder is
// dead, or it has outlived maxAge.
func (m *Marker) IsStale(probe LivenessProbe, maxAge time.Duration) bool {
	if !probe.Alive(m.PID) {
		return true
	}
	return m.Age() > maxAge
}

// markerName derives the marker filename for a resource.
//
// The sha256 prefix gives collision resistance across arbitrary
// resource strings; the sanitized base keeps `ls` output readable.
func markerName(resource string) string {
	hash := sha256.Sum256([]byte(resource))
	hashStr := hex.EncodeToString(hash[:])[:16]

	base := filepath.Base(resource)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if len(base) > 48 {
		base = base[:48]
	}

	return hashStr + "-" + base + ".lock"
}

// readMarker parses a marker file. A missing file returns the os error
// unchanged so callers can os.IsNotExist it; corrupt JSON returns a
// nil marker and the decode error.
func readMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// encodeMarker renders the marker JSON written into a lock file.
func encodeMarker(m *Marker) ([]byte, error) {
	return json.Marshal(m)
}
