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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/fixpoint/internal/lock"
)

// cacheSchemaVersion is the on-disk document version. Readers accept
// documents with a different version on a best-effort basis and fall
// back to a cold cache when decoding fails.
const cacheSchemaVersion = "1"

// Option configures a cache at construction time. Options are shared
// by TypeCache and FlowCache since both persist through the same
// lock-guarded document path.
type Option func(*options)

type options struct {
	locks    *lock.Manager
	lockWait time.Duration
}

// WithLockManager guards cache file reads and writes with the given
// lock manager. Without a manager the cache reads and writes directly,
// which is only safe for single-process use.
func WithLockManager(m *lock.Manager) Option {
	return func(o *options) {
		o.locks = m
	}
}

// WithLockWait overrides the lock acquisition wait used when a lock
// manager is configured.
func WithLockWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockWait = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lockWait: 5 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// withFileLock runs fn while holding the named resource lock when a
// manager is configured. A lock that cannot be taken within the wait
// is reported as ErrLockTimeout; callers decide whether to skip the
// operation or proceed unguarded.
func withFileLock(locks *lock.Manager, resource string, wait time.Duration, fn func() error) error {
	if locks == nil {
		return fn()
	}
	ok, err := locks.Acquire(resource, wait)
	if err != nil {
		return fmt.Errorf("acquiring cache lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockTimeout, resource)
	}
	defer func() {
		if relErr := locks.Release(resource); relErr != nil {
			slog.Warn("failed to release cache lock",
				"resource", resource,
				"error", relErr)
		}
	}()
	return fn()
}
