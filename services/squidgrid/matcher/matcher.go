// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matcher locates a short sequence of observed layout indices inside
// an RNG-stream table.
package matcher

import (
	"iter"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// DefaultOuterWindow bounds where the first observed layout may sit.
	// It exceeds every shipped table, so in practice the whole table.
	DefaultOuterWindow = 1_000_000_000

	// DefaultNestedWindow bounds how far past the previous match the next
	// observed layout may sit.
	DefaultNestedWindow = 100_000
)

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squidgrid_matcher_searches_total",
		Help: "Sequence searches by outcome",
	}, []string{"result"}) // "found", "none" or "stopped"

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "squidgrid_matcher_search_duration_seconds",
		Help:    "Sequence search duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	searchAlignments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "squidgrid_matcher_alignments",
		Help:    "Alignments yielded per search",
		Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 1000},
	})
)

// Alignment is one placement of the observed sequence in the table: the
// table position of each observed layout, strictly increasing.
type Alignment struct {
	Positions []int `json:"positions"`
}

// Gaps returns the distance of each position from the previous one. The
// first gap is measured from the start of the table.
func (a Alignment) Gaps() []int {
	gaps := make([]int, len(a.Positions))
	prev := 0
	for i, p := range a.Positions {
		gaps[i] = p - prev
		prev = p
	}
	return gaps
}

// Matcher searches one table. The table is shared, never modified.
//
// Thread Safety: Safe for concurrent use.
type Matcher struct {
	table        []uint32
	outerWindow  int
	nestedWindow int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithOuterWindow overrides DefaultOuterWindow.
func WithOuterWindow(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.outerWindow = n
		}
	}
}

// WithNestedWindow overrides DefaultNestedWindow.
func WithNestedWindow(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.nestedWindow = n
		}
	}
}

// New creates a matcher over table.
func New(table []uint32, opts ...Option) *Matcher {
	m := &Matcher{
		table:        table,
		outerWindow:  DefaultOuterWindow,
		nestedWindow: DefaultNestedWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// frame is one level of the backtracking search: the next table position
// to test and the end of the window at this level.
type frame struct {
	next  int
	limit int
}

// Matches yields every alignment of observed in the table.
//
// Description:
//
//	The first observed layout is sought in [0, outerWindow). Each later
//	layout is sought in (p, p+nestedWindow) where p is the previous match.
//	Alignments are produced with the first position ascending, then each
//	later position ascending, by an explicit-stack depth-first search.
//	An empty observed sequence yields nothing.
//
// Inputs:
//
//	observed - Layout indices, oldest first. Must not be modified while
//	iterating.
//
// Outputs:
//
//	iter.Seq[Alignment] - Each yielded alignment owns its Positions slice.
func (m *Matcher) Matches(observed []uint32) iter.Seq[Alignment] {
	return func(yield func(Alignment) bool) {
		start := time.Now()
		yielded := 0
		result := "none"
		defer func() {
			if yielded > 0 && result == "none" {
				result = "found"
			}
			searchTotal.WithLabelValues(result).Inc()
			searchDuration.Observe(time.Since(start).Seconds())
			searchAlignments.Observe(float64(yielded))
		}()

		if len(observed) == 0 {
			return
		}
		last := len(observed) - 1
		positions := make([]int, 0, len(observed))
		stack := make([]frame, 1, len(observed))
		stack[0] = frame{next: 0, limit: min(len(m.table), m.outerWindow)}

		for len(stack) > 0 {
			depth := len(stack) - 1
			f := &stack[depth]
			sought := observed[depth]

			found := -1
			for f.next < f.limit {
				i := f.next
				f.next++
				if m.table[i] == sought {
					found = i
					break
				}
			}

			if found < 0 {
				stack = stack[:depth]
				if depth > 0 {
					positions = positions[:depth-1]
				}
				continue
			}

			if depth == last {
				yielded++
				if !yield(Alignment{Positions: slices.Clone(append(positions, found))}) {
					result = "stopped"
					return
				}
				continue
			}

			positions = append(positions, found)
			stack = append(stack, frame{
				next:  found + 1,
				limit: min(len(m.table), found+m.nestedWindow),
			})
		}
	}
}

// FindMatches collects every alignment of observed.
func (m *Matcher) FindMatches(observed []uint32) []Alignment {
	var out []Alignment
	for a := range m.Matches(observed) {
		out = append(out, a)
	}
	return out
}

// FindFirst returns up to limit alignments. A limit of zero or less means
// no limit.
func (m *Matcher) FindFirst(observed []uint32, limit int) []Alignment {
	var out []Alignment
	for a := range m.Matches(observed) {
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
