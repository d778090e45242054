// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: LevelWarn, Output: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.Slog().Info("dropped")
	logger.Slog().Warn("kept", slog.Int("slot", 2))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "slot=2")
	assert.Contains(t, out, "service=squidgrid")
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{JSON: true, Service: "cli", Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("hello", slog.String("variant", "big"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "cli", rec["service"])
	assert.Equal(t, "big", rec["variant"])
}

func TestNew_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger, err := New(Config{LogDir: dir, Service: "test", Output: &buf})
	require.NoError(t, err)

	logger.Slog().With(slog.String("component", "loader")).Info("table ready")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	assert.True(t, strings.HasPrefix(filepath.Base(logger.Path()), "test_"))
	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "table ready", rec["msg"])
	assert.Equal(t, "loader", rec["component"])
	assert.Contains(t, buf.String(), "table ready")
}

func TestNew_QuietWithoutFile(t *testing.T) {
	logger, err := New(Config{Quiet: true})
	require.NoError(t, err)
	assert.NotNil(t, logger.Slog())
	assert.Empty(t, logger.Path())
	assert.NoError(t, logger.Close())
}

func TestNew_BadLogDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(Config{LogDir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".squidgrid/logs"), ExpandPath("~/.squidgrid/logs"))
	assert.Equal(t, "/var/log", ExpandPath("/var/log"))
	assert.Equal(t, "~user/x", ExpandPath("~user/x"))
}
