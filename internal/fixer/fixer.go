// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fixer defines the rewrite contract between the engine and
// the code that repairs individual diagnostics. A fixer takes file
// content plus one diagnostic and produces new content; it never
// touches the filesystem itself.
package fixer

import (
	"context"
	"sync"

	"github.com/AleutianAI/fixpoint/internal/analyzer"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

// TypeSource is the read side of the type cache a fixer may consult.
type TypeSource interface {
	GetType(subject, member string) (typecache.TypeInfo, bool)
}

// Request carries everything a fixer needs for one rewrite.
type Request struct {
	// Path is the file being fixed, for context only. Fixers must not
	// read or write it; Content is authoritative.
	Path string

	// Content is the current file content.
	Content []byte

	// Diagnostic is the finding to repair.
	Diagnostic analyzer.Diagnostic

	// Types exposes cached type information. May be nil.
	Types TypeSource
}

// TypeFact is a piece of type knowledge discovered while rewriting,
// harvested into the type cache by the engine. Flows lists members the
// same value reaches, recorded as flow edges from this fact's subject.
type TypeFact struct {
	Subject string
	Member  string
	Info    typecache.TypeInfo
	Flows   []typecache.Edge
}

// Rewrite is the outcome of a successful fix.
type Rewrite struct {
	// Content is the full new file content. Equal content signals a
	// no-op to the transaction layer.
	Content []byte

	// Description says what was changed, for the ledger and report.
	Description string

	// TypeFacts discovered during the rewrite. Optional.
	TypeFacts []TypeFact
}

// Fixer repairs diagnostics it recognizes.
type Fixer interface {
	// Name identifies the fixer in ledgers and reports.
	Name() string

	// CanFix reports whether this fixer handles the diagnostic.
	CanFix(d analyzer.Diagnostic) bool

	// Fix produces the rewritten content. Returning an error records
	// the diagnostic as errored; the engine rolls the file back.
	Fix(ctx context.Context, req *Request) (*Rewrite, error)
}

// Registry resolves diagnostics to fixers in registration order.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	fixers []Fixer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with the builtin syntax fixers
// registered in their canonical order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTrailingWhitespaceFixer())
	r.Register(NewFinalNewlineFixer())
	r.Register(NewIndentFixer())
	return r
}

// Register appends a fixer. Earlier registrations win when several
// fixers claim the same diagnostic.
func (r *Registry) Register(f Fixer) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixers = append(r.fixers, f)
}

// Resolve returns the first fixer claiming the diagnostic, or nil when
// the diagnostic is unfixable.
func (r *Registry) Resolve(d analyzer.Diagnostic) Fixer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fixers {
		if f.CanFix(d) {
			return f
		}
	}
	return nil
}

// Names lists registered fixers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.fixers))
	for i, f := range r.fixers {
		names[i] = f.Name()
	}
	return names
}

// Len reports the number of registered fixers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fixers)
}
