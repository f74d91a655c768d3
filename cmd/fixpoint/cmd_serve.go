// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fixpoint/internal/history"
	"github.com/AleutianAI/fixpoint/internal/lock"
	"github.com/AleutianAI/fixpoint/internal/server"
	"github.com/AleutianAI/fixpoint/internal/telemetry"
	"github.com/AleutianAI/fixpoint/internal/typecache"
)

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "fixpoint-serve"
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		log.Fatalf("Could not initialize telemetry: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// The journal stays open for the life of the server, so a fix run
	// in another terminal skips journaling with a warning until this
	// process exits.
	store, err := history.Open(history.Config{Path: cfg.History.Dir})
	if err != nil {
		log.Fatalf("Could not open the run journal: %v", err)
	}
	defer store.Close()

	types := typecache.NewTypeCache(cfg.Caches.TypesPath())
	flows := typecache.NewFlowCache(cfg.Caches.FlowsPath())

	handlers := server.NewHandlers(logger.Slog()).
		WithHistory(store).
		WithCaches(types, flows)
	if cfg.Locks.Enabled {
		mgr, err := lock.NewManager(lock.Config{
			Dir:            cfg.Locks.Dir,
			DefaultTimeout: cfg.Engine.LockTimeout(),
		})
		if err != nil {
			log.Fatalf("Could not open the lock directory %s: %v", cfg.Locks.Dir, err)
		}
		defer mgr.Close()
		handlers = handlers.WithLocks(mgr)
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv, err := server.New(server.Config{
		Addr:          addr,
		ServiceName:   "fixpoint-serve",
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
		Debug:         serveDebug,
	}, handlers, logger.Slog())
	if err != nil {
		log.Fatalf("Could not build the HTTP server: %v", err)
	}

	logger.Info("serving the fixpoint API", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server terminated: %v", err)
	}
}
