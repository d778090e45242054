// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streamtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrVariantConflict indicates a load was requested for a different variant
// than the one this loader is already committed to.
var ErrVariantConflict = errors.New("stream table variant conflict")

// State is the lifecycle state of a Loader.
type State int

const (
	// NotStarted means no load is running and no table is resident.
	NotStarted State = iota

	// Loading means a load is in flight.
	Loading

	// Ready means the table is resident.
	Ready
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "not_started"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "not_started":
		*s = NotStarted
	case "loading":
		*s = Loading
	case "ready":
		*s = Ready
	default:
		return fmt.Errorf("unknown loader state %q", text)
	}
	return nil
}

// BlobCache is the subset of the artifact cache the loader needs.
type BlobCache interface {
	Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// Status is a snapshot of a Loader.
type Status struct {
	State   State   `json:"state"`
	Variant Variant `json:"variant,omitempty"`
	Words   int     `json:"words"`
	Error   string  `json:"error,omitempty"`
}

// Loader loads one stream table per process.
//
// Description:
//
//	The first requested variant fixes the loader. Concurrent calls while a
//	load is in flight join it; calls once the table is resident return it
//	directly. A load that fails returns the loader to NotStarted with no
//	variant chosen, so the caller may try again. Loads are detached from
//	the caller's context: a caller that gives up stops waiting, but the
//	download keeps running and its result is kept.
//
// Thread Safety: Safe for concurrent use.
type Loader struct {
	cache  BlobCache
	source Source
	logger *slog.Logger
	flight singleflight.Group

	mu      sync.Mutex
	state   State
	variant Variant
	table   []uint32
	lastErr error

	// attempts counts loads that reached the source or cache.
	attempts uint64
}

// loadOutcome is what one flight hands to every caller that joined it.
type loadOutcome struct {
	table   []uint32
	attempt uint64
}

// NewLoader creates a loader. cache may be nil, in which case every load
// goes to the source.
func NewLoader(cache BlobCache, source Source, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cache:  cache,
		source: source,
		logger: logger.With(slog.String("component", "stream_table_loader")),
	}
}

// Load returns the stream table for v, loading it if necessary.
//
// Inputs:
//
//	ctx - Bounds how long the caller waits, not the load itself.
//	v - Variant to load.
//
// Outputs:
//
//	[]uint32 - The table. Shared; callers must not modify it.
//	error - ErrVariantConflict, a fetch or decode error, or ctx.Err().
func (l *Loader) Load(ctx context.Context, v Variant) ([]uint32, error) {
	if _, err := ParseVariant(string(v)); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.variant != "" && l.variant != v {
		committed := l.variant
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: loader holds %s, requested %s", ErrVariantConflict, committed, v)
	}
	if l.state == Ready {
		table := l.table
		l.mu.Unlock()
		return table, nil
	}
	l.variant = v
	l.state = Loading
	l.lastErr = nil
	l.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := l.flight.DoChan(string(v), func() (interface{}, error) {
		return l.load(detached, v)
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(loadOutcome)
		if res.Err != nil {
			l.settleFailure(v, out.attempt, res.Err)
			return nil, res.Err
		}
		return out.table, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settleFailure covers a caller that marked the loader Loading and then
// joined a flight whose failure was already recorded: the flight is still
// keyed until it returns, so nothing else would reset the state.
func (l *Loader) settleFailure(v Variant, attempt uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Loading || l.variant != v || l.attempts != attempt {
		return
	}
	l.state = NotStarted
	l.variant = ""
	l.lastErr = err
}

// load runs once per in-flight load and records the outcome.
func (l *Loader) load(ctx context.Context, v Variant) (loadOutcome, error) {
	start := time.Now()
	l.mu.Lock()
	l.attempts++
	attempt := l.attempts
	l.mu.Unlock()

	table, err := l.fetch(ctx, v)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = NotStarted
		l.variant = ""
		l.lastErr = err
		l.logger.Error("stream table load failed",
			slog.String("variant", string(v)),
			slog.String("error", err.Error()))
		return loadOutcome{attempt: attempt}, err
	}
	l.state = Ready
	l.table = table
	l.logger.Info("stream table ready",
		slog.String("variant", string(v)),
		slog.Int("words", len(table)),
		slog.Duration("elapsed", time.Since(start)))
	return loadOutcome{table: table, attempt: attempt}, nil
}

func (l *Loader) fetch(ctx context.Context, v Variant) ([]uint32, error) {
	if l.cache == nil {
		data, err := l.source.Fetch(ctx, v)
		if err != nil {
			return nil, err
		}
		return DecodeWords(data)
	}

	blob, err := l.cache.Fetch(ctx, v.CacheKey(), func(ctx context.Context) ([]byte, error) {
		data, err := l.source.Fetch(ctx, v)
		if err != nil {
			return nil, err
		}
		// Validate before the blob is cached.
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("%w: %d bytes", ErrMisalignedTable, len(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	table, err := DecodeWords(blob)
	if err == nil {
		return table, nil
	}

	l.logger.Warn("cached stream table unreadable, downloading again",
		slog.String("variant", string(v)),
		slog.String("error", err.Error()))
	data, err := l.source.Fetch(ctx, v)
	if err != nil {
		return nil, err
	}
	table, err = DecodeWords(data)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Put(ctx, v.CacheKey(), data); err != nil {
		l.logger.Warn("failed to replace cached stream table", slog.String("error", err.Error()))
	}
	return table, nil
}

// Status returns the current state.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{State: l.state, Variant: l.variant, Words: len(l.table)}
	if l.lastErr != nil {
		st.Error = l.lastErr.Error()
	}
	return st
}

// Table returns the resident table, if any.
func (l *Loader) Table() ([]uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Ready {
		return nil, false
	}
	return l.table, true
}
