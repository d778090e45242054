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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/squidgrid/cmd/squidgrid/config"
	"github.com/AleutianAI/squidgrid/pkg/logging"
	"github.com/AleutianAI/squidgrid/pkg/ux"
	"github.com/AleutianAI/squidgrid/services/squidgrid/artifact"
	sgbadger "github.com/AleutianAI/squidgrid/services/squidgrid/storage/badger"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

// app is the state shared by every command: flags, the loaded config, the
// logger and the output printer.
type app struct {
	configPath string
	logLevel   string

	cfg     config.SquidgridConfig
	logger  *logging.Logger
	out     *ux.Printer
	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "squidgrid",
		Short: "Track the squid grid RNG from observed boards",
		Long: `squidgrid identifies squid grid layouts, finds where a sequence of
observed boards sits in the game's RNG stream and serves board probabilities
over HTTP.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.squidgrid/squidgrid.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")

	root.AddCommand(
		newServeCmd(a),
		newLayoutsCmd(a),
		newTableCmd(a),
		newMatchCmd(a),
		newPriorsCmd(a),
		newTimerCmd(a),
	)
	return root
}

// setup loads the config and installs the logger. Logs go to stderr as
// JSON unless stderr is a terminal.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		a.configPath = p
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "squidgrid",
		JSON:    !ux.IsTerminal(os.Stderr),
	})
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, logger.Close)
	slog.SetDefault(logger.Slog())

	a.out = ux.NewPrinter(cmd.OutOrStdout(), !isTerminalWriter(cmd.OutOrStdout()))
	return nil
}

func isTerminalWriter(w any) bool {
	f, ok := w.(*os.File)
	return ok && ux.IsTerminal(f)
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}
	a.closers = nil
}

// openCache opens the on-disk artifact store and wraps it in a cache. The
// store is closed by close.
func (a *app) openCache(ctx context.Context) (*artifact.Cache, error) {
	bc := sgbadger.DefaultConfig(logging.ExpandPath(a.cfg.Storage.Dir))
	bc.InMemory = a.cfg.Storage.InMemory
	bc.SyncWrites = a.cfg.Storage.SyncWrites
	bc.GCInterval = a.cfg.Storage.GCInterval
	bc.Logger = a.log().With(slog.String("component", "badger"))

	store, err := artifact.OpenBadgerStore(ctx, bc, artifact.WithLogger(a.log()))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return artifact.NewCache(store, a.log()), nil
}

// newSource builds the stream table source named by the config.
func (a *app) newSource(ctx context.Context) (streamtable.Source, error) {
	t := a.cfg.Tables
	switch t.Source {
	case "http":
		return streamtable.NewHTTPSource(t.BaseURL), nil
	case "file":
		return streamtable.FileSource{Dir: logging.ExpandPath(t.Dir)}, nil
	case "gcs":
		src, err := streamtable.NewGCSSource(ctx, t.Bucket, t.Prefix, logging.ExpandPath(t.CredentialsFile))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		return src, nil
	default:
		return nil, fmt.Errorf("unknown table source %q", t.Source)
	}
}

// variant resolves a --variant flag against the configured default.
func (a *app) variant(flag string) (streamtable.Variant, error) {
	name := flag
	if name == "" {
		name = a.cfg.Tables.Variant
	}
	if name == "" {
		name = string(streamtable.Small)
	}
	return streamtable.ParseVariant(name)
}

var errNotFound = errors.New("not found")
