// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB instance that backs
// the squidgrid artifact cache.
//
// The database holds a handful of large, rarely rewritten blobs (the layout
// index table and the RNG-stream tables), so the defaults favour durable
// writes and occasional value log GC over write throughput.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrLocked indicates another process holds the database directory lock.
	ErrLocked = errors.New("database directory is locked by another process")

	// ErrClosed indicates the database was used after Close.
	ErrClosed = errors.New("database is closed")
)

// Config holds configuration for the artifact database.
type Config struct {
	// Dir is the directory for database files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// ValueLogFileSize bounds each value log file. Zero keeps badger's default.
	ValueLogFileSize int64

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration used for the on-disk cache at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes BadgerDB's printf-style logger onto slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// DB wraps a BadgerDB instance with transaction helpers, background GC and
// close tracking.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db       *badger.DB
	dir      string
	inMemory bool
	closed   atomic.Bool
	gc       *gcRunner
	closeMu  sync.Mutex
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates the directory if needed and opens BadgerDB there. When another
//	process already has the directory open the returned error wraps
//	ErrLocked, so callers can tell a blocked open apart from a broken one.
//	Starts value log GC when cfg.GCInterval is positive.
//
// Inputs:
//
//	cfg - Database configuration. Dir is required unless InMemory is set.
//
// Outputs:
//
//	*DB - The opened database. Caller must Close it.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("database directory is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.Dir)
		}
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{db: bdb, dir: cfg.Dir, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.gc = newGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		d.gc.start()
	}
	return d, nil
}

// isLockError reports whether an open failed because of the directory lock.
// Badger formats the flock error into its message instead of wrapping it.
func isLockError(err error) bool {
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// Dir returns the database directory, or "" for an in-memory database.
func (d *DB) Dir() string {
	return d.dir
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Closed reports whether Close has been called.
func (d *DB) Closed() bool {
	return d.closed.Load()
}

// Close stops GC and closes the database. Calling it twice is a no-op.
func (d *DB) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed.Load() {
		return nil
	}
	d.closed.Store(true)
	if d.gc != nil {
		d.gc.stop()
	}
	return d.db.Close()
}

// Update runs fn in a read-write transaction and commits it explicitly.
//
// Description:
//
//	The transaction is discarded without committing when fn returns an
//	error. A commit that fails with badger.ErrTxnTooBig is returned as-is
//	so callers can split their writes.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction that is discarded before View
// returns. Values must be copied out inside fn.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	txn := d.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

func (d *DB) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Sync flushes pending writes. No-op in memory.
func (d *DB) Sync() error {
	if d.inMemory {
		return nil
	}
	if d.closed.Load() {
		return ErrClosed
	}
	return d.db.Sync()
}

// gcRunner triggers value log GC on a ticker until stopped.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.collect()
			}
		}
	}()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) collect() {
	// ErrNoRewrite just means there was nothing worth reclaiming.
	err := r.db.RunValueLogGC(r.ratio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
		r.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
	}
}
