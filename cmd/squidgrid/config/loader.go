// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a config file that fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// DefaultPath returns ~/.squidgrid/squidgrid.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".squidgrid", "squidgrid.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
// An empty path means DefaultPath.
func Load(path string) (SquidgridConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return SquidgridConfig{}, err
		}
		path = p
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("first run detected, creating the config", slog.String("path", path))
		if err := createDefault(path); err != nil {
			return SquidgridConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SquidgridConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return SquidgridConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig and validates the result, so a
// file only needs the keys it changes.
func Parse(data []byte) (SquidgridConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SquidgridConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return SquidgridConfig{}, err
	}
	return cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg SquidgridConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
