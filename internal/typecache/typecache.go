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
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/fixpoint/internal/fsio"
)

// cacheDocument is the persisted form of a TypeCache.
type cacheDocument struct {
	Version     string           `json:"version"`
	Cache       map[string]entry `json:"cache"`
	GeneratedAt string           `json:"generated_at"`
}

// TypeCache maps "Subject|member" keys to resolved type information.
// Entries are validated lazily against the mtime of the file the
// subject was registered from; an entry older than its file is evicted
// on lookup rather than served stale.
type TypeCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]entry
	files   map[string]string
	opts    options
	dirty   bool
	loaded  bool
}

// TypeCacheStats summarizes cache contents for reporting.
type TypeCacheStats struct {
	Entries  int    `json:"entries"`
	Subjects int    `json:"subjects"`
	Path     string `json:"path"`
	Loaded   bool   `json:"loaded"`
}

// NewTypeCache opens the cache persisted at path, loading any existing
// document. An empty path creates an ephemeral cache that never
// persists.
//
// Description:
//
//	Loading is tolerant: a missing file starts cold, a corrupt or
//	unreadable document starts cold with a warning, and a version
//	mismatch is decoded best-effort. Construction never fails because
//	of cache state.
//
// Inputs:
//
//	path - cache file location, or "" for an in-memory cache.
//	opts - optional lock manager wiring for multi-process use.
//
// Outputs:
//
//	*TypeCache - ready to serve lookups, possibly cold.
func NewTypeCache(path string, opts ...Option) *TypeCache {
	c := &TypeCache{
		path:    path,
		entries: make(map[string]entry),
		files:   make(map[string]string),
		opts:    buildOptions(opts),
	}
	c.load()
	return c
}

// GetType returns the cached type for a subject member, or ok=false on
// a miss. A hit is only reported when the subject's source file still
// exists and has not been modified since the entry was stored; entries
// invalidated by file changes are evicted here.
func (c *TypeCache) GetType(subject, member string) (TypeInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(subject, member)
	ent, ok := c.entries[key]
	if !ok {
		cacheMissesTotal.WithLabelValues(cacheLabelType).Inc()
		return TypeInfo{}, false
	}

	file := ent.File
	if file == "" {
		file = c.files[normalizeSubject(subject)]
	}
	if file == "" {
		// No registration yet. The entry may become verifiable once
		// the subject's file is registered, so keep it but do not
		// serve it.
		cacheMissesTotal.WithLabelValues(cacheLabelType).Inc()
		return TypeInfo{}, false
	}

	mtime, err := fsio.Mtime(file)
	if err != nil {
		delete(c.entries, key)
		c.dirty = true
		cacheEvictionsTotal.WithLabelValues(cacheLabelType, evictFileMissing).Inc()
		cacheMissesTotal.WithLabelValues(cacheLabelType).Inc()
		return TypeInfo{}, false
	}
	if mtime.Unix() > ent.Timestamp {
		delete(c.entries, key)
		c.dirty = true
		cacheEvictionsTotal.WithLabelValues(cacheLabelType, evictFileChanged).Inc()
		cacheMissesTotal.WithLabelValues(cacheLabelType).Inc()
		return TypeInfo{}, false
	}

	cacheHitsTotal.WithLabelValues(cacheLabelType).Inc()
	return ent.Info, true
}

// SetType stores type information for a subject member, stamped with
// the current time. The entry carries the subject's registered file so
// a reloaded cache can validate it without re-registration.
func (c *TypeCache) SetType(subject, member string, info TypeInfo) {
	if info.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	norm := normalizeSubject(subject)
	c.entries[cacheKey(subject, member)] = entry{
		Info:      info,
		Timestamp: time.Now().Unix(),
		File:      c.files[norm],
	}
	c.dirty = true
}

// RegisterFile records which source file defines a subject. Existing
// entries for the subject that were stored before registration are
// backfilled so they become verifiable.
func (c *TypeCache) RegisterFile(subject, path string) {
	if subject == "" || path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	norm := normalizeSubject(subject)
	c.files[norm] = path
	prefix := norm + "|"
	for key, ent := range c.entries {
		if ent.File == "" && strings.HasPrefix(key, prefix) {
			ent.File = path
			c.entries[key] = ent
			c.dirty = true
		}
	}
}

// Clear drops all entries and registrations.
func (c *TypeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.files = make(map[string]string)
	c.dirty = true
}

// Stats reports entry and subject counts.
func (c *TypeCache) Stats() TypeCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	subjects := make(map[string]struct{}, len(c.files))
	for s := range c.files {
		subjects[s] = struct{}{}
	}
	for key := range c.entries {
		if i := strings.Index(key, "|"); i > 0 {
			subjects[key[:i]] = struct{}{}
		}
	}
	return TypeCacheStats{
		Entries:  len(c.entries),
		Subjects: len(subjects),
		Path:     c.path,
		Loaded:   c.loaded,
	}
}

// Save persists the cache atomically, guarded by the file lock when a
// manager is configured. Ephemeral caches and unchanged caches are a
// no-op. A lock timeout returns ErrLockTimeout; the in-memory cache is
// unaffected.
func (c *TypeCache) Save() error {
	c.mu.Lock()
	if c.path == "" || !c.dirty {
		c.mu.Unlock()
		return nil
	}
	doc := cacheDocument{
		Version:     cacheSchemaVersion,
		Cache:       make(map[string]entry, len(c.entries)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for key, ent := range c.entries {
		doc.Cache[key] = ent
	}
	path := c.path
	opts := c.opts
	c.mu.Unlock()

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

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// load reads the persisted document. Every failure mode degrades to a
// cold cache; only the reason is recorded.
func (c *TypeCache) load() {
	if c.path == "" {
		return
	}

	var data []byte
	readErr := withFileLock(c.opts.locks, c.path, c.opts.lockWait, func() error {
		var err error
		data, err = os.ReadFile(c.path)
		return err
	})
	if readErr != nil && c.opts.locks != nil {
		// A lock timeout on load should not stall the run. The read
		// is retried unguarded; worst case is a torn read that decodes
		// as corrupt and starts cold.
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelType, loadFailLockTimeout).Inc()
		data, readErr = os.ReadFile(c.path)
	}
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			slog.Warn("type cache unreadable, starting cold",
				"path", c.path,
				"error", readErr)
			cacheLoadFailuresTotal.WithLabelValues(cacheLabelType, loadFailCorrupt).Inc()
		}
		return
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("type cache corrupt, starting cold",
			"path", c.path,
			"error", err)
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelType, loadFailCorrupt).Inc()
		return
	}
	if doc.Version != cacheSchemaVersion {
		slog.Warn("type cache version mismatch, loading best-effort",
			"path", c.path,
			"version", doc.Version,
			"want", cacheSchemaVersion)
		cacheLoadFailuresTotal.WithLabelValues(cacheLabelType, loadFailVersion).Inc()
	}

	for key, ent := range doc.Cache {
		if ent.Info.IsZero() {
			continue
		}
		c.entries[key] = ent
		if ent.File != "" {
			if i := strings.Index(key, "|"); i > 0 {
				if _, exists := c.files[key[:i]]; !exists {
					c.files[key[:i]] = ent.File
				}
			}
		}
	}
	c.loaded = true
}
