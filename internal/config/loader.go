// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure from Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the config file, creating it from Default(root) on
// first run.
//
// Values present in the file override the defaults; absent sections
// keep them, so a hand-written config only needs the settings it
// changes. The merged result is validated before it is returned.
func Load(file, root string) (*Config, error) {
	if file == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	if root == "" {
		return nil, fmt.Errorf("config: project root is required")
	}

	if _, err := os.Stat(file); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "first run: writing default config to %s\n", file)
		if err := createDefault(file, root); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", file, err)
	}

	cfg := Default(root)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", file, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createDefault(file, root string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default(root))
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}

// DetectRoot walks up from start looking for a directory that already
// carries a fixpoint config, then for a go.mod or .git marker. When
// nothing matches it settles on start itself.
//
// The second return is a display name for the project: the base of the
// module path when a go.mod declares one, the directory name
// otherwise.
func DetectRoot(start string) (string, string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("detect root: %w", err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	for dir := abs; ; {
		if hasMarker(dir) {
			return dir, projectName(dir), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return abs, projectName(abs), nil
}

func hasMarker(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, DefaultDirName, DefaultFileName)); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	return false
}

// projectName prefers the module path base from go.mod over the
// directory name.
func projectName(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err == nil {
		if f, perr := modfile.Parse("go.mod", data, nil); perr == nil && f.Module != nil {
			if base := path.Base(f.Module.Mod.Path); base != "" && base != "." {
				return base
			}
		}
	}
	return filepath.Base(dir)
}
