// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the microbench YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global MicrobenchConfig
	once   sync.Once
)

// DefaultPath is ~/.microbench/microbench.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".microbench", "microbench.yaml"), nil
}

// Load reads the config into Global once. An empty path uses DefaultPath,
// which is created with defaults if missing.
func Load(path string) error {
	var err error
	once.Do(func() {
		Global, err = loadInternal(path)
	})
	return err
}

func loadInternal(path string) (MicrobenchConfig, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return MicrobenchConfig{}, err
		}
		if _, err := os.Stat(def); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", def)
			if err := createDefault(def); err != nil {
				return MicrobenchConfig{}, err
			}
		}
		path = def
	}
	return LoadFile(path)
}

// LoadFile parses and validates the file at path. Keys missing from the file
// keep their default values.
func LoadFile(path string) (MicrobenchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MicrobenchConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MicrobenchConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return MicrobenchConfig{}, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
