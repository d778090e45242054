// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/squidgrid/pkg/ux"
	"github.com/AleutianAI/squidgrid/services/squidgrid/artifact"
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

var cornerLayout = layout.FromRows("22......", "333.....", "4444....")

// testConfig returns a config with an in-memory store and a file source
// reading from tableDir.
func testConfig(tableDir string) string {
	return fmt.Sprintf(`storage:
  dir: ""
  in_memory: true
tables:
  source: file
  dir: %q
logging:
  level: error
`, tableDir)
}

// run executes the CLI with a config file in a temp dir and returns stdout.
func run(t *testing.T, cfgYAML string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squidgrid.yaml")
	if cfgYAML != "" {
		require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o644))
	}

	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	a.close()
	return out.String(), err
}

func writeTable(t *testing.T, words []uint32) string {
	t.Helper()
	dir := t.TempDir()
	name := filepath.Join(dir, streamtable.Small.ObjectName())
	require.NoError(t, os.WriteFile(name, streamtable.EncodeWords(words), 0o644))
	return dir
}

func TestTimerEstimate(t *testing.T) {
	out, err := run(t, testConfig(t.TempDir()), "timer", "estimate", "--seconds", "10")
	require.NoError(t, err)
	assert.Equal(t, "steps=2676\n", out)

	out, err = run(t, testConfig(t.TempDir()), "timer", "estimate", "--seconds", "10", "--loading", "--rewards", "1")
	require.NoError(t, err)
	assert.Equal(t, "steps=2496\n", out)
}

func TestTimerEstimate_RequiresSeconds(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "timer", "estimate")
	assert.Error(t, err)
}

func TestPriors(t *testing.T) {
	out, err := run(t, testConfig(t.TempDir()), "priors", "6699", "--timer-steps", "7000")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "#6699")
	assert.Contains(t, lines[0], "500000.000")
	assert.Contains(t, lines[1], "in play")
	assert.Contains(t, lines[1], "7000.000")
	assert.Contains(t, lines[1], "200.000")
}

func TestPriors_NoObserved(t *testing.T) {
	out, err := run(t, testConfig(t.TempDir()), "priors")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "in play")
}

func TestPriors_IndexOutOfRange(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "priors", "604584")
	assert.ErrorIs(t, err, errNotFound)
}

func TestTableFetch(t *testing.T) {
	dir := writeTable(t, []uint32{1, 2, 3})
	out, err := run(t, testConfig(dir), "table", "fetch")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: small table ready")
	assert.Contains(t, out, "entries=3")
}

func TestTableFetch_Missing(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "table", "fetch", "--variant", "big")
	assert.ErrorIs(t, err, streamtable.ErrFetchFailed)
}

func TestTableFetch_UnknownVariant(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "table", "fetch", "--variant", "huge")
	assert.ErrorIs(t, err, streamtable.ErrUnknownVariant)
}

func TestMatch(t *testing.T) {
	dir := writeTable(t, []uint32{7, 11, 9, 12, 11, 12})
	out, err := run(t, testConfig(dir), "match", "11", "12")
	require.NoError(t, err)

	assert.Contains(t, out, "positions [1 3]  gaps [1 2]")
	assert.Contains(t, out, "positions [1 5]  gaps [1 4]")
	assert.Contains(t, out, "positions [4 5]  gaps [4 1]")
	assert.Contains(t, out, "alignments=3")
	assert.NotContains(t, out, "truncated")
}

func TestMatch_Truncated(t *testing.T) {
	dir := writeTable(t, []uint32{7, 11, 9, 12, 11, 12})
	out, err := run(t, testConfig(dir), "match", "11", "12", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "alignments=2")
	assert.Contains(t, out, "truncated")
}

func TestMatch_None(t *testing.T) {
	dir := writeTable(t, []uint32{1, 2, 3})
	out, err := run(t, testConfig(dir), "match", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "WARN: no alignment found")
}

func TestLayouts(t *testing.T) {
	if testing.Short() {
		t.Skip("enumerates every layout")
	}
	cfg := testConfig(t.TempDir())

	out, err := run(t, cfg, "layouts", "lookup", cornerLayout)
	require.NoError(t, err)
	assert.Contains(t, out, "index=6699")
	assert.Contains(t, out, "2 2 . . . . . .")

	out, err = run(t, cfg, "layouts", "show", "6699")
	require.NoError(t, err)
	assert.Contains(t, out, "encoding="+cornerLayout)

	out, err = run(t, cfg, "layouts", "count")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("layouts=%d\n", layout.LayoutCount), out)

	out, err = run(t, cfg, "layouts", "random")
	require.NoError(t, err)
	assert.Contains(t, out, "encoding=")

	_, err = run(t, cfg, "layouts", "lookup", strings.Repeat(".", layout.CellCount))
	assert.ErrorIs(t, err, errNotFound)

	_, err = run(t, cfg, "layouts", "lookup", "abc")
	assert.ErrorIs(t, err, layout.ErrInvalidEncoding)
}

func TestLayoutsShow_BadIndex(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "layouts", "show", "seven")
	assert.Error(t, err)

	_, err = run(t, testConfig(t.TempDir()), "layouts", "show", "700000")
	assert.ErrorIs(t, err, errNotFound)
}

func TestFirstRunCreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "squidgrid.yaml")
	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "timer", "estimate", "--seconds", "0"})
	require.NoError(t, root.Execute())
	a.close()

	_, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, "steps=156\n", out.String())
}

func TestBadLogLevel(t *testing.T) {
	_, err := run(t, testConfig(t.TempDir()), "--log-level", "loud", "timer", "estimate", "--seconds", "1")
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		want string
	}{
		{"blocked", fmt.Errorf("open: %w", artifact.ErrStoreBlocked), 3, "Another squidgrid process"},
		{"schema", artifact.ErrSchemaUnsupported, 3, "Delete the storage directory"},
		{"closed", artifact.ErrStoreClosed, 3, "Restart squidgrid"},
		{"other", errNotFound, 1, "ERROR: not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := report(ux.NewPrinter(&buf, true), tt.err)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
