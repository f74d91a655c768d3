// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the fixpoint.yaml configuration.
//
// Every directory fixpoint writes to (caches, backups, locks, history)
// is an explicit config value. Defaults are derived from the project
// root once, written to the config file on first run, and read back
// like any other setting; nothing is discovered from ambient state at
// run time.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultDirName is the per-project fixpoint directory.
	DefaultDirName = ".fixpoint"

	// DefaultFileName is the config file inside DefaultDirName.
	DefaultFileName = "fixpoint.yaml"

	// DefaultServerAddr is the serve-mode bind address.
	DefaultServerAddr = "127.0.0.1:7430"
)

// configValidate is the validator instance for config structs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config is the root of fixpoint.yaml.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Engine    EngineConfig    `yaml:"engine"`
	Caches    CachesConfig    `yaml:"caches"`
	Locks     LocksConfig     `yaml:"locks"`
	Backups   BackupsConfig   `yaml:"backups"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProjectConfig identifies the tree fixpoint operates on.
type ProjectConfig struct {
	Root string `yaml:"root" validate:"required"`
	Name string `yaml:"name"`
}

// AnalyzerConfig describes the external analysis oracle.
type AnalyzerConfig struct {
	Bin            string            `yaml:"bin" validate:"required"`
	Args           []string          `yaml:"args"`
	Format         string            `yaml:"format" validate:"oneof=fixpoint-json golangci-lint"`
	Level          int               `yaml:"level" validate:"gte=0,lte=9"`
	TimeoutSeconds int               `yaml:"timeout_seconds" validate:"gte=1"`
	Options        map[string]string `yaml:"options"`
	AllowedOptions []string          `yaml:"allowed_options"`
}

// Timeout returns the analyzer process deadline.
func (a AnalyzerConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// EngineConfig bounds the fix loop.
type EngineConfig struct {
	MaxPasses          int  `yaml:"max_passes" validate:"gte=1,lte=10"`
	LockTimeoutSeconds int  `yaml:"lock_timeout_seconds" validate:"gte=1"`
	RecordDiffs        bool `yaml:"record_diffs"`
}

// LockTimeout returns the per-file lock wait bound.
func (e EngineConfig) LockTimeout() time.Duration {
	return time.Duration(e.LockTimeoutSeconds) * time.Second
}

// CachesConfig places the type and flow cache documents.
type CachesConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// TypesPath is the type cache document location.
func (c CachesConfig) TypesPath() string {
	return filepath.Join(c.Dir, "types.json")
}

// FlowsPath is the flow cache document location.
func (c CachesConfig) FlowsPath() string {
	return filepath.Join(c.Dir, "flows.json")
}

// LocksConfig controls advisory per-file locking.
type LocksConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required"`
}

// BackupsConfig places transaction snapshots.
type BackupsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// HistoryConfig places the run journal and bounds its size.
type HistoryConfig struct {
	Dir  string `yaml:"dir" validate:"required"`
	Keep int    `yaml:"keep" validate:"gte=1"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Addr          string  `yaml:"addr" validate:"required,hostname_port"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" validate:"gte=1"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Validate checks the struct tags and wraps failures in
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Default returns the configuration written on first run, with every
// fixpoint directory placed under root/.fixpoint.
func Default(root string) Config {
	dir := filepath.Join(root, DefaultDirName)
	return Config{
		Project: ProjectConfig{
			Root: root,
		},
		Analyzer: AnalyzerConfig{
			Bin:            "fixpoint-analyze",
			Format:         "fixpoint-json",
			Level:          5,
			TimeoutSeconds: 60,
		},
		Engine: EngineConfig{
			MaxPasses:          3,
			LockTimeoutSeconds: 10,
		},
		Caches: CachesConfig{
			Dir: filepath.Join(dir, "cache"),
		},
		Locks: LocksConfig{
			Enabled: true,
			Dir:     filepath.Join(dir, "locks"),
		},
		Backups: BackupsConfig{
			Dir: filepath.Join(dir, "backups"),
		},
		History: HistoryConfig{
			Dir:  filepath.Join(dir, "history"),
			Keep: 50,
		},
		Server: ServerConfig{
			Addr:          DefaultServerAddr,
			RatePerSecond: 10,
			Burst:         20,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
