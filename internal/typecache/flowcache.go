// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package typecache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/fixpoint/internal/fsio"
)

// Dest identifies a member that receives a value through assignment or
// a call argument.
type Dest struct {
	Type   string `json:"type"`
	Member string `json:"member"`
}

// Edge is one recorded value flow from an origin member to a
// destination, optionally tagged with the call site that produced it.
type Edge struct {
	Dest     Dest   `json:"dest"`
	CallSite string `json:"call_site,omitempty"`
}

// flowDocument is the persisted form of a FlowCache. Edges are keyed
// by the origin "Type|member".
type flowDocument struct {
	Version     string            `json:"version"`
	Edges       map[string][]Edge `json:"edges"`
	GeneratedAt string            `json:"generated_at"`
}

// FlowCache records where values flow between members, so a type fix
// applied at one site can be propagated to the members that receive
// the same value. Duplicate edges collapse to one.
type FlowCache struct {
	mu     sync.Mutex
	path   string
	edges  map[string][]Edge
	opts   options
	dirty  bool
	loaded bool
}

// FlowCacheStats summarizes flow cache contents for reporting.
type FlowCacheStats struct {
	Origins int    `json:"origins"`
	Edges   int    `json:"edges"`
	Path    string `json:"path"`
	Loaded  bool   `json:"loaded"`
}

// NewFlowCache opens the flow cache persisted at path, with the same
// tolerant loading behavior as NewTypeCache. An empty path creates an
// ephemeral cache.
func NewFlowCache(path string, opts ...Option) *FlowCache {
	f := &FlowCache{
		path:  path,
		edges: make(map[string][]Edge),
		opts:  buildOptions(opts),
	}
	f.load()
	return f
}

// RecordEdge stores a value flow from an origin member to a
// destination. Recording the exact same edge again, including the call
// site, is a no-op.
func (f *FlowCache) RecordEdge(originType, originMember string, dest Dest, callSite string) {
	if originType == "" || originMember == "" || dest.Type == "" || dest.Member == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := cacheKey(originType, originMember)
	for _, e := range f.edges[key] {
		if e.Dest == dest && e.CallSite == callSite {
			return
		}
	}
	f.edges[key] = append(f.edges[key], Edge{Dest: dest, CallSite: callSite})
	f.dirty = true
	flowEdgesTotal.Inc()
}

// Targets returns the distinct destinations reachable from an origin
// member. Edges that differ only in call site collapse to one target.
func (f *FlowCache) Targets(originType, originMember string) []Dest {
	f.mu.Lock()
	defer f.mu.Unlock()

	edges := f.edges[cacheKey(originType, originMember)]
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[Dest]struct{}, len(edges))
	dests := make([]Dest, 0, len(edges))
	for _, e := range edges {
		if _, dup := seen[e.Dest]; dup {
			continue
		}
		seen[e.Dest] = struct{}{}
		dests = append(dests, e.Dest)
	}
	return dests
}

// Clear drops all recorded edges.
func (f *FlowCache) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = make(map[string][]Edge)
	f.dirty = true
}

// Stats reports origin and edge counts.
func (f *FlowCache) Stats() FlowCacheStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, edges := range f.edges {
		total += len(edges)
	}
	return FlowCacheStats{
		Origins: len(f.edges),
		Edges:   total,
		Path:    f.path,
		Loaded:  f.loaded,
	}
}

// Save persists the flow cache atomically under the file lock. The
// no-op and error semantics match TypeCache.Save.
func (f *FlowCache) Save() error {
	f.mu.Lock()
	if f.path == "" || !f.dirty {
		f.mu.Unlock()
		return nil
	}
	doc := flowDocument{
		Version:     cacheSchemaVersion,
		Edges:       make(map[string][]Edge, len(f.edges)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for key, edges := range f.edges {
		doc.Edges[key] = append([]Edge(nil), edges...)
	}
	path := f.path
	opts := f.opts
	f.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	err = withFileLock(opts.locks, path, opts.lockWait, func() error {
		if dirErr := fsio.EnsureDir(filepath.Dir(path)); dirErr != nil {
			return dirErr
		}
		return fsio.WriteFileAtomic(path, data, 0o644)
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.dirty = false
	f.mu.Unlock()
	return nil
}

func (f *FlowCache) load() {
	if f.path == "" {
		return
	}

	var data []byte
	readErr := withFileLock(f.opts.locks, f.path, f.opts.lockWait, func() error {
		var err error
		data, err = os.ReadFile(f.path)
		return err
	})
	if readErr != nil && f.opts.locks != nil {
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelFlow, loadFailLockTimeout).Inc()
		data, readErr = os.ReadFile(f.path)
	}
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			slog.Warn("flow cache unreadable, starting cold",
				"path", f.path,
				"error", readErr)
			cacheLoadFailuresTotal.WithLabelValues(cacheLabelFlow, loadFailCorrupt).Inc()
		}
		return
	}

	var doc flowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("flow cache corrupt, starting cold",
			"path", f.path,
			"error", err)
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelFlow, loadFailCorrupt).Inc()
		return
	}
	if doc.Version != cacheSchemaVersion {
		slog.Warn("flow cache version mismatch, loading best-effort",
			"path", f.path,
			"version", doc.Version,
			"want", cacheSchemaVersion)
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelFlow, loadFailVersion).Inc()
	}

	for key, edges := range doc.Edges {
		if key == "" || len(edges) == 0 {
			continue
		}
		f.edges[key] = append([]Edge(nil), edges...)
	}
	f.loaded = true
}
