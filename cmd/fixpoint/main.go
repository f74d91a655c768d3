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
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fixpoint/internal/config"
	"github.com/AleutianAI/fixpoint/internal/report"
	"github.com/AleutianAI/fixpoint/pkg/logging"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "0.1.0-dev"

var (
	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if cmd == versionCmd {
			// version must work outside any project
			return
		}

		start := rootDir
		if start == "" {
			wd, err := os.Getwd()
			if err != nil {
				log.Fatalf("Could not determine the working directory: %v", err)
			}
			start = wd
		}
		root, name, err := config.DetectRoot(start)
		if err != nil {
			log.Fatalf("Could not detect the project root: %v", err)
		}

		file := cfgFile
		if file == "" {
			file = filepath.Join(root, config.DefaultDirName, config.DefaultFileName)
		}
		loaded, err := config.Load(file, root)
		if err != nil {
			log.Fatalf("Could not load %s: %v", file, err)
		}
		if loaded.Project.Name == "" {
			loaded.Project.Name = name
		}
		cfg = loaded

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(level),
			LogDir:  cfg.Logging.Dir,
			Service: "fixpoint",
			JSON:    cfg.Logging.JSON,
		})
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}
}

// newRenderer builds the renderer shared by every subcommand, honoring
// --json and --plain before falling back to fd detection.
func newRenderer() *report.Renderer {
	mode := report.DetectMode(os.Stdout)
	if plainOut {
		mode = report.ModePlain
	}
	if jsonOut {
		mode = report.ModeJSON
	}
	return report.NewRenderer(os.Stdout, report.Options{Mode: mode, Verbose: verboseOut})
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("fixpoint %s\n", version)
}
