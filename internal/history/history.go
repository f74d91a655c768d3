// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history journals engine runs in an embedded BadgerDB so
// `fixpoint history` and the serve mode can answer "what did this tool
// do to my tree, and when" without scraping logs.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/fixpoint/internal/engine"
)

// runKeyPrefix namespaces run records. Keys order chronologically
// because the suffix is the zero-padded start time in nanoseconds.
const runKeyPrefix = "run:"

// Record is one persisted engine run.
type Record struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Passes     int           `json:"passes"`
	Converged  bool          `json:"converged"`
	StopReason string        `json:"stop_reason"`
	Fixed      int           `json:"fixed"`
	Unfixable  int           `json:"unfixable"`
	Errored    int           `json:"errored"`

	// Files are the files the run actually rewrote, in first-touch
	// order.
	Files []string `json:"files,omitempty"`
}

// FromResult builds a Record from an engine result.
func FromResult(res *engine.Result, started time.Time, duration time.Duration) Record {
	rec := Record{
		StartedAt:  started,
		Duration:   duration,
		Passes:     res.PassCount,
		Converged:  res.Converged,
		StopReason: res.StopReason,
		Fixed:      res.Fixed,
		Unfixable:  res.Unfixable,
		Errored:    res.Errored,
	}

	seen := make(map[string]struct{})
	for _, pass := range res.Passes {
		for _, fix := range pass.Applied {
			if _, dup := seen[fix.Path]; dup {
				continue
			}
			seen[fix.Path] = struct{}{}
			rec.Files = append(rec.Files, fix.Path)
		}
	}
	return rec
}

// Config configures the journal database.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. For tests.
	InMemory bool

	// SyncWrites makes every append durable before returning.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Store is the run journal.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB provides the transaction
// isolation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("history: path is required for a persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists one run record. A missing ID is filled in.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}

	key := runKey(rec.StartedAt)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("write run record: %w", err)
	}

	s.logger.Debug("run recorded", "id", rec.ID, "fixed", rec.Fixed)
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	prefix := []byte(runKeyPrefix)
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Newest keys sort last, so reverse iteration starts past the
		// prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					s.logger.Warn("skipping undecodable run record",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read run records: %w", err)
	}
	return records, nil
}

// Prune deletes all but the newest keep records and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}

	prefix := []byte(runKeyPrefix)
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		n := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			n++
			if n <= keep {
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan run records: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete run records: %w", err)
	}

	s.logger.Info("pruned run history", "removed", len(stale), "kept", keep)
	return len(stale), nil
}

// runKey builds the chronological key for a run.
func runKey(started time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", runKeyPrefix, started.UnixNano()))
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
