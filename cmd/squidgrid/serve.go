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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/squidgrid/cmd/squidgrid/config"
	"github.com/AleutianAI/squidgrid/services/squidgrid"
	"github.com/AleutianAI/squidgrid/services/squidgrid/engine"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
	"github.com/AleutianAI/squidgrid/services/squidgrid/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the squidgrid HTTP API",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
}

// runServe wires the session to the HTTP API and serves until SIGINT or
// SIGTERM.
//
// The layout table is built in the background; lookups answer "pending"
// until it is ready. When tables.variant is set its stream table starts
// loading at once. Belief and timer parameters follow the config file
// while the server runs.
func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := a.log()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	cache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	source, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	deps := session.Deps{Cache: cache, Source: source, Logger: logger}
	if a.cfg.Engine.URL != "" {
		deps.Engine = engine.NewHTTPEngine(a.cfg.Engine.URL, a.cfg.Engine.Timeout, logger)
	} else {
		logger.Warn("no engine url configured, probabilities and commit are disabled")
	}
	sess := session.New(a.cfg.SessionConfig(), deps)

	go func() {
		if err := sess.LoadLayouts(ctx); err != nil && ctx.Err() == nil {
			logger.Error("layout table failed", slog.String("error", err.Error()))
		}
	}()
	if a.cfg.Tables.Variant != "" {
		v, err := streamtable.ParseVariant(a.cfg.Tables.Variant)
		if err != nil {
			return err
		}
		if _, err := sess.LoadStreamTable(ctx, v, false); err != nil {
			logger.Warn("stream table preload failed", slog.String("error", err.Error()))
		}
	}

	watcher, err := config.NewWatcher(a.configPath, func(cfg config.SquidgridConfig) {
		sess.SetParams(cfg.Beliefs)
		sess.SetTimerParams(cfg.Timer)
	}, &config.WatcherOptions{DebounceWindow: 200 * time.Millisecond, Logger: logger})
	if err != nil {
		logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
		}
		defer watcher.Stop()
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := squidgrid.NewRouter(squidgrid.NewHandlers(sess, logger), logger)
	srv := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting squidgrid server",
			slog.String("address", srv.Addr),
			slog.String("config", a.configPath),
			slog.Int("pid", os.Getpid()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down squidgrid server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.out.Success("server stopped")
	return nil
}
