// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the external analysis oracle and decodes its
// findings into diagnostics. The oracle is any binary that emits one
// of the registered output formats; fixpoint never links analysis
// logic in-process.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds an analyzer process run.
const DefaultTimeout = 60 * time.Second

// DefaultMaxLevel is the highest accepted strictness level.
const DefaultMaxLevel = 9

// Option configures a Client.
type Option func(*Client)

// WithArgs sets base arguments placed before the generated ones.
func WithArgs(args ...string) Option {
	return func(c *Client) {
		c.args = append([]string(nil), args...)
	}
}

// WithFormat selects the output format parser. Default FormatNative.
func WithFormat(format string) Option {
	return func(c *Client) {
		if format != "" {
			c.format = format
		}
	}
}

// WithTimeout overrides the process deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithWorkingDir sets the directory the analyzer runs in.
func WithWorkingDir(dir string) Option {
	return func(c *Client) {
		c.workingDir = dir
	}
}

// WithMaxLevel overrides the accepted strictness ceiling.
func WithMaxLevel(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxLevel = max
		}
	}
}

// WithAllowedOptions sets the option keys Analyze accepts. Keys not
// in the list fail validation; an empty list rejects all options.
func WithAllowedOptions(keys ...string) Option {
	return func(c *Client) {
		c.allowedOptions = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			c.allowedOptions[k] = struct{}{}
		}
	}
}

// Client executes one configured analyzer command.
//
// Thread Safety: Safe for concurrent use; every Analyze call builds
// its own process.
type Client struct {
	command        string
	args           []string
	format         string
	timeout        time.Duration
	maxLevel       int
	allowedOptions map[string]struct{}
	workingDir     string
}

// NewClient creates a Client for the given analyzer binary.
func NewClient(command string, opts ...Option) *Client {
	c := &Client{
		command:        command,
		format:         FormatNative,
		timeout:        DefaultTimeout,
		maxLevel:       DefaultMaxLevel,
		allowedOptions: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Command returns the configured analyzer binary.
func (c *Client) Command() string {
	return c.command
}

// Available reports whether the analyzer binary resolves in PATH.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

// Analyze runs the analyzer over the given paths.
//
// Description:
//
//	Validates every input before any process is spawned: paths must
//	exist and be traversal-free, the level must be within range, and
//	option keys must be allow-listed. The process then runs under the
//	configured deadline. A deadline hit is ErrAnalyzerTimeout and a
//	crash without output is ErrAnalyzerFailed; both carry stderr.
//
// Inputs:
//
//	ctx - cancels or bounds the run in addition to the client timeout.
//	paths - files or directories to analyze. Must be non-empty.
//	level - strictness level, 0..MaxLevel.
//	options - extra key=value settings passed through to the analyzer.
//
// Outputs:
//
//	*Result - decoded diagnostics, never nil on success.
//	error - validation, spawn, timeout, or decode failure.
func (c *Client) Analyze(ctx context.Context, paths []string, level int, options map[string]string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if err := c.validate(paths, level, options); err != nil {
		runsTotal.WithLabelValues(runOutcomeBadInput).Inc()
		return nil, err
	}

	if _, err := exec.LookPath(c.command); err != nil {
		runsTotal.WithLabelValues(runOutcomeFailed).Inc()
		return nil, fmt.Errorf("%w: %s", ErrAnalyzerNotFound, c.command)
	}

	parser := GetParser(c.format)
	if parser == nil {
		runsTotal.WithLabelValues(runOutcomeBadInput).Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, c.format)
	}

	start := time.Now()
	output, err := c.execute(ctx, paths, level, options)
	elapsed := time.Since(start)
	runDuration.Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}

	var diags []Diagnostic
	if len(bytes.TrimSpace(output)) > 0 {
		diags, err = parser(output)
		if err != nil {
			runsTotal.WithLabelValues(runOutcomeFailed).Inc()
			return nil, fmt.Errorf("%w: %v", ErrParseOutput, err)
		}
	}

	runsTotal.WithLabelValues(runOutcomeOK).Inc()
	for _, d := range diags {
		diagnosticsTotal.WithLabelValues(string(d.Severity)).Inc()
	}

	slog.Debug("analyzer run completed",
		"command", c.command,
		"paths", len(paths),
		"level", level,
		"diagnostics", len(diags),
		"duration", elapsed)

	return &Result{
		Diagnostics: diags,
		Command:     c.command,
		Duration:    elapsed,
	}, nil
}

// validate applies the fail-fast input checks.
func (c *Client) validate(paths []string, level int, options map[string]string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no paths given", ErrInvalidInput)
	}
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidInput)
		}
		if strings.Contains(p, "..") {
			return fmt.Errorf("%w: path %q contains traversal", ErrInvalidInput, p)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: path %q: %v", ErrInvalidInput, p, err)
		}
	}
	if level < 0 || level > c.maxLevel {
		return fmt.Errorf("%w: level %d outside 0..%d", ErrInvalidInput, level, c.maxLevel)
	}
	for key := range options {
		if _, ok := c.allowedOptions[key]; !ok {
			return fmt.Errorf("%w: option %q not allowed", ErrInvalidInput, key)
		}
	}
	return nil
}

// execute runs the analyzer process and returns stdout.
func (c *Client) execute(ctx context.Context, paths []string, level int, options map[string]string) ([]byte, error) {
	args := append([]string(nil), c.args...)
	args = append(args, "--level="+strconv.Itoa(level))

	// Deterministic option order keeps runs reproducible.
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--opt", k+"="+options[k])
	}
	args = append(args, paths...)

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, c.command, args...)
	if c.workingDir != "" {
		cmd.Dir = c.workingDir
	} else if len(paths) > 0 {
		cmd.Dir = filepath.Dir(paths[0])
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		runsTotal.WithLabelValues(runOutcomeTimeout).Inc()
		return nil, newRunError(c.command, ErrAnalyzerTimeout, stderr.String())
	}
	if ctx.Err() != nil {
		runsTotal.WithLabelValues(runOutcomeFailed).Inc()
		return nil, ctx.Err()
	}

	// Analyzers exit non-zero when they find issues. Only a run with
	// no stdout at all counts as a crash.
	if err != nil && stdout.Len() == 0 {
		runsTotal.WithLabelValues(runOutcomeFailed).Inc()
		return nil, newRunError(c.command, ErrAnalyzerFailed, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
