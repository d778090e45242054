// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/squidgrid/services/squidgrid/engine"
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

var boards = []string{
	layout.FromRows("22......", "333.....", "4444....", "........", "........", "........", "........", "........"),
	layout.FromRows("........", "..4.....", "..4.....", "..4..2..", ".34..2..", ".3......", ".3......", "........"),
	layout.FromRows("........", "........", "........", "........", "........", "........", "....4444", "...33322"),
}

// memCache is an in-memory BlobCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *memCache) Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if blob, ok := c.entries[key]; ok {
		return blob, nil
	}
	blob, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.entries[key] = blob
	return blob, nil
}

func (c *memCache) Put(_ context.Context, key string, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = blob
	return nil
}

var (
	sharedCache = &memCache{entries: map[string][]byte{}}
	sharedOnce  sync.Once
)

// freshCache returns a cache holding only the enumerated layout table, so
// stream tables never leak between tests.
func freshCache(t *testing.T) *memCache {
	t.Helper()
	sharedOnce.Do(func() {
		_, err := layout.Load(context.Background(), sharedCache, nil)
		require.NoError(t, err)
	})
	sharedCache.mu.Lock()
	defer sharedCache.mu.Unlock()
	return &memCache{entries: map[string][]byte{layout.CacheKey: sharedCache.entries[layout.CacheKey]}}
}

// fakeEngine answers with canned values and records requests.
type fakeEngine struct {
	mu       sync.Mutex
	result   engine.Result
	index    uint32
	err      error
	requests []engine.Request

	// during runs inside Disambiguate, after the request is recorded.
	during func()
}

func (e *fakeEngine) Probabilities(_ context.Context, req engine.Request) (engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.result, e.err
}

func (e *fakeEngine) Disambiguate(_ context.Context, req engine.Request) (uint32, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	during := e.during
	e.mu.Unlock()
	if during != nil {
		during()
	}
	return e.index, e.err
}

type tableSource struct {
	words []uint32
}

func (s tableSource) Fetch(context.Context, streamtable.Variant) ([]byte, error) {
	return streamtable.EncodeWords(s.words), nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	if deps.Cache == nil {
		deps.Cache = freshCache(t)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(1, 2))
	}
	s := New(DefaultConfig(), deps)
	require.NoError(t, s.LoadLayouts(context.Background()))
	return s
}

func indexOf(t *testing.T, s *Session, encoding string) uint32 {
	t.Helper()
	res, err := s.Lookup(encoding)
	require.NoError(t, err)
	require.Equal(t, LookupOK, res.Status)
	return res.Index
}

func TestLookup_PendingBeforeLoad(t *testing.T) {
	s := New(DefaultConfig(), Deps{Cache: freshCache(t)})

	res, err := s.Lookup(boards[0])
	require.NoError(t, err)
	assert.Equal(t, LookupPending, res.Status)
	assert.Equal(t, streamtable.NotStarted, s.Status().LayoutTable.State)

	_, err = s.Decode(0)
	assert.True(t, errors.Is(err, ErrTableNotReady))

	require.NoError(t, s.LoadLayouts(context.Background()))
	assert.Equal(t, streamtable.Ready, s.Status().LayoutTable.State)
	assert.Equal(t, layout.LayoutCount, s.LayoutCount())
}

func TestLookup(t *testing.T) {
	s := newSession(t, Deps{})

	idx := indexOf(t, s, boards[1])
	l, err := s.Decode(idx)
	require.NoError(t, err)
	assert.Equal(t, boards[1], l.Encode())

	res, err := s.Lookup(layout.FromRows("22......", "........", "........", "........", "........", "........", "........", "........"))
	require.NoError(t, err)
	assert.Equal(t, LookupUnknown, res.Status)

	_, err = s.Lookup("short")
	assert.True(t, errors.Is(err, layout.ErrInvalidEncoding))

	_, err = s.Decode(layout.LayoutCount)
	assert.True(t, errors.Is(err, ErrUnknownIndex))
}

func TestHistory_ObservedAndEdits(t *testing.T) {
	s := newSession(t, Deps{})
	require.NoError(t, s.SetSlot(0, boards[0]))
	require.NoError(t, s.SetSlot(1, boards[1]))

	view := s.History()
	assert.Equal(t, []uint32{indexOf(t, s, boards[0]), indexOf(t, s, boards[1])}, view.Observed)

	s.ShiftHistory()
	assert.Equal(t, []uint32{indexOf(t, s, boards[1])}, s.Observed())

	ok, err := s.ConnectSlot(2, layout.Point{X: 0, Y: 0}, layout.Point{X: 0, Y: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	s.ClearHistory()
	assert.Empty(t, s.Observed())
}

func TestMatches(t *testing.T) {
	s := newSession(t, Deps{Source: tableSource{}})
	a, b := indexOf(t, s, boards[0]), indexOf(t, s, boards[1])

	_, err := s.Matches(context.Background())
	assert.True(t, errors.Is(err, ErrStreamTableNotReady))

	words := []uint32{7, a, 9, b, a, b}
	s = newSession(t, Deps{Source: tableSource{words: words}})
	st, err := s.LoadStreamTable(context.Background(), streamtable.Small, true)
	require.NoError(t, err)
	assert.Equal(t, streamtable.Ready, st.State)

	res, err := s.Matches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Alignments, "empty history searches nothing")

	require.NoError(t, s.SetSlot(0, boards[0]))
	require.NoError(t, s.SetSlot(1, boards[1]))
	res, err = s.Matches(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alignments, 3)
	assert.Equal(t, []int{1, 3}, res.Alignments[0].Positions)
	assert.Equal(t, []int{1, 5}, res.Alignments[1].Positions)
	assert.Equal(t, []int{4, 5}, res.Alignments[2].Positions)
	assert.False(t, res.Truncated)
}

func TestMatches_Truncated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchLimit = 1
	s := New(cfg, Deps{Cache: freshCache(t), Source: tableSource{}})
	require.NoError(t, s.LoadLayouts(context.Background()))
	a := indexOf(t, s, boards[0])

	s.loader = streamtable.NewLoader(nil, tableSource{words: []uint32{a, a, a}}, nil)
	_, err := s.LoadStreamTable(context.Background(), streamtable.Big, true)
	require.NoError(t, err)
	require.NoError(t, s.SetSlot(0, boards[0]))

	res, err := s.Matches(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Alignments, 1)
	assert.True(t, res.Truncated)
}

func TestLoadStreamTable_NoWaitReportsConflict(t *testing.T) {
	s := newSession(t, Deps{Source: tableSource{words: []uint32{1, 2}}})

	_, err := s.LoadStreamTable(context.Background(), streamtable.Small, false)
	require.NoError(t, err)

	_, err = s.LoadStreamTable(context.Background(), streamtable.Big, false)
	assert.True(t, errors.Is(err, streamtable.ErrVariantConflict))

	require.Eventually(t, func() bool {
		return s.Status().StreamTable.State == streamtable.Ready
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPriors_UseTimerEstimate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := newSession(t, Deps{Now: clock.now})
	require.NoError(t, s.SetSlot(0, boards[0]))

	p := s.Priors()
	assert.Equal(t, []float64{500_000, 7000}, p.Means)

	s.Split(context.Background())
	clock.advance(10 * time.Second)
	res := s.Split(context.Background())
	require.False(t, res.Started)
	require.True(t, res.Estimate.Valid)
	assert.NotEmpty(t, res.CommitError, "no engine configured")

	p = s.Priors()
	assert.Equal(t, float64(res.Estimate.Steps), p.Means[1])
	assert.Equal(t, 200.0, p.StdDevs[1])

	params := s.Params()
	params.UseTimer = false
	s.SetParams(params)
	assert.Equal(t, 7000.0, s.Priors().Means[1])
}

func TestProbabilities(t *testing.T) {
	var result engine.Result
	result.Cells[layout.Point{X: 0, Y: 6}.Index()] = 0.9
	eng := &fakeEngine{result: result}
	s := newSession(t, Deps{Engine: eng})
	require.NoError(t, s.SetSlot(0, boards[0]))
	s.ToggleCell(layout.Point{X: 3, Y: 3}, false)

	res, err := s.Probabilities(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, res.Recommended)
	assert.Equal(t, layout.Point{X: 0, Y: 6}, *res.Recommended)

	require.Len(t, eng.requests, 1)
	req := eng.requests[0]
	assert.True(t, req.SequenceAware)
	assert.Equal(t, []int{27}, req.Misses)
	assert.Equal(t, []uint32{indexOf(t, s, boards[0])}, req.Observed)
	assert.Len(t, req.PriorMeans, 2)

	_, err = New(DefaultConfig(), Deps{}).Probabilities(context.Background(), false)
	assert.True(t, errors.Is(err, ErrNoEngine))
}

func TestCommit(t *testing.T) {
	eng := &fakeEngine{}
	s := newSession(t, Deps{Engine: eng})
	require.NoError(t, s.SetSlot(0, boards[0]))
	first := indexOf(t, s, boards[0])
	eng.index = indexOf(t, s, boards[2])
	s.ToggleCell(layout.Point{X: 4, Y: 6}, true)

	res, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CommitResult{Index: eng.index, Slot: 1}, res)
	assert.Equal(t, []uint32{first, eng.index}, s.Observed())

	require.Len(t, eng.requests, 1)
	req := eng.requests[0]
	assert.True(t, req.SequenceAware)
	assert.Equal(t, []int{layout.Point{X: 4, Y: 6}.Index()}, req.Hits)
	assert.Equal(t, []uint32{first}, req.Observed)
	assert.Len(t, req.PriorMeans, len(req.Observed)+1)
	assert.Len(t, req.PriorStdDevs, len(req.Observed)+1)
	assert.NoError(t, req.Validate())

	board := s.Board()
	hits, _ := board.Stats()
	assert.Empty(t, hits, "board cleared after commit")
	_, undone := s.Undo()
	assert.False(t, undone, "undo history cleared after commit")
}

func TestCommit_BoardChangedDuringIdentify(t *testing.T) {
	eng := &fakeEngine{}
	s := newSession(t, Deps{Engine: eng})
	eng.index = indexOf(t, s, boards[2])
	s.ToggleCell(layout.Point{X: 4, Y: 6}, true)
	eng.during = func() { s.ToggleCell(layout.Point{X: 0, Y: 0}, false) }

	_, err := s.Commit(context.Background())
	assert.True(t, errors.Is(err, ErrBoardChanged))
	assert.Empty(t, s.Observed())
	board := s.Board()
	_, misses := board.Stats()
	assert.Equal(t, []int{0}, misses, "mark made during the call survives")
}

func TestCommit_HistoryChangedDuringIdentify(t *testing.T) {
	eng := &fakeEngine{}
	s := newSession(t, Deps{Engine: eng})
	require.NoError(t, s.SetSlot(0, boards[0]))
	eng.index = indexOf(t, s, boards[2])
	eng.during = s.ClearHistory

	_, err := s.Commit(context.Background())
	assert.True(t, errors.Is(err, ErrBoardChanged))
	assert.Empty(t, s.Observed())
}

func TestCommit_NoValidAssignmentLeavesHistory(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrNoValidAssignment}
	s := newSession(t, Deps{Engine: eng})
	require.NoError(t, s.SetSlot(0, boards[0]))
	s.ToggleCell(layout.Point{X: 0, Y: 0}, true)

	_, err := s.Commit(context.Background())
	assert.True(t, errors.Is(err, engine.ErrNoValidAssignment))
	assert.Len(t, s.Observed(), 1)
	board := s.Board()
	hits, _ := board.Stats()
	assert.Equal(t, []int{0}, hits, "board kept for correction")
}

func TestSplit_CommitsFinishedBoard(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	eng := &fakeEngine{}
	s := newSession(t, Deps{Engine: eng, Now: clock.now})
	eng.index = indexOf(t, s, boards[1])

	res := s.Split(context.Background())
	assert.True(t, res.Started)
	assert.Nil(t, res.Commit)
	assert.Empty(t, eng.requests, "starting the timer commits nothing")

	clock.advance(5 * time.Second)
	res = s.Split(context.Background())
	require.NotNil(t, res.Commit)
	assert.Equal(t, eng.index, res.Commit.Index)
	assert.True(t, res.Estimate.Valid)

	// The finished board was played before any estimate existed.
	require.Len(t, eng.requests, 1)
	want := prior.Build(nil, prior.DefaultParams(), prior.NoEstimate)
	assert.Equal(t, want.Means, eng.requests[0].PriorMeans)

	// The next board is identified with the estimate from the last split.
	played := res.Estimate
	clock.advance(7 * time.Second)
	res = s.Split(context.Background())
	require.NotNil(t, res.Commit)
	require.Len(t, eng.requests, 2)
	assert.Equal(t, []uint32{eng.index}, eng.requests[1].Observed)
	want = prior.Build([]uint32{eng.index}, prior.DefaultParams(), played)
	assert.Equal(t, want.Means, eng.requests[1].PriorMeans)
	assert.NotEqual(t, played, res.Estimate)
}

func TestUndo(t *testing.T) {
	s := newSession(t, Deps{})
	_, ok := s.Undo()
	assert.False(t, ok)

	s.ToggleCell(layout.Point{X: 2, Y: 2}, true)
	s.SetKills(1)
	s.SetKills(1)

	b, ok := s.Undo()
	require.True(t, ok)
	assert.Zero(t, b.Kills, "repeated kill count is one step")
	assert.Equal(t, engine.Hit, b.Marks[layout.Point{X: 2, Y: 2}.Index()])

	b, ok = s.Undo()
	require.True(t, ok)
	assert.Equal(t, *engine.NewBoard(), b)

	s.ToggleCell(layout.Point{X: 2, Y: 2}, true)
	s.ResetBoard()
	_, ok = s.Undo()
	assert.False(t, ok)
}

func TestMarkRecommended(t *testing.T) {
	var result engine.Result
	best := layout.Point{X: 0, Y: 6}
	result.Cells[best.Index()] = 0.9
	eng := &fakeEngine{result: result}
	s := newSession(t, Deps{Engine: eng})

	_, err := s.MarkRecommended(true)
	assert.True(t, errors.Is(err, ErrNoRecommendation))

	_, err = s.Probabilities(context.Background(), false)
	require.NoError(t, err)
	b, err := s.MarkRecommended(false)
	require.NoError(t, err)
	assert.Equal(t, engine.Miss, b.Marks[best.Index()])
	assert.Equal(t, best, b.Cursor)

	_, err = s.MarkRecommended(true)
	assert.True(t, errors.Is(err, ErrNoRecommendation), "suggestion is spent once the board changes")

	b, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, engine.Unknown, b.Marks[best.Index()])
}

func TestMarkRecommended_StaleAfterToggle(t *testing.T) {
	var result engine.Result
	result.Cells[layout.Point{X: 0, Y: 6}.Index()] = 0.9
	s := newSession(t, Deps{Engine: &fakeEngine{result: result}})

	_, err := s.Probabilities(context.Background(), false)
	require.NoError(t, err)
	s.ToggleCell(layout.Point{X: 5, Y: 5}, false)

	_, err = s.MarkRecommended(true)
	assert.True(t, errors.Is(err, ErrNoRecommendation))
}

func TestMarkRecommended_PracticeReveals(t *testing.T) {
	var result engine.Result
	for i := range result.Cells {
		result.Cells[i] = 0.5
	}
	s := newSession(t, Deps{Engine: &fakeEngine{result: result}})
	s.StartPractice()

	res, err := s.Probabilities(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, res.Recommended)

	b, err := s.MarkRecommended(true)
	require.NoError(t, err)
	mark := b.Marks[res.Recommended.Index()]
	assert.NotEqual(t, engine.Unknown, mark)
	assert.Equal(t, s.practice[res.Recommended.Index()] != layout.Empty, mark == engine.Hit)
}

func TestTimerOps(t *testing.T) {
	s := newSession(t, Deps{})
	assert.Equal(t, 2, s.AdjustRewards(5).Rewards)
	assert.True(t, s.ToggleInvalidated().Invalidated)
	st := s.ResetTimer()
	assert.False(t, st.Running)
	assert.Zero(t, st.Rewards)
	assert.True(t, st.LoadingRoom)

	s.SetTimerParams(prior.TimerParams{TickIntercept: 1, TickRate: 1})
	assert.Equal(t, int64(1-940), *s.TimerState().LiveSteps)
}

func TestPractice(t *testing.T) {
	s := newSession(t, Deps{})

	_, err := s.Reveal(layout.Point{})
	assert.True(t, errors.Is(err, ErrNotPracticing))

	s.StartPractice()
	hits := 0
	for i := 0; i < layout.CellCount; i++ {
		board, err := s.Reveal(layout.PointAt(i))
		require.NoError(t, err)
		if board.Marks[i] == engine.Hit {
			hits++
		}
	}
	assert.Equal(t, layout.OccupiedCells, hits)
	assert.Equal(t, 3, s.Board().Kills)

	s.ResetBoard()
	_, err = s.Reveal(layout.Point{})
	assert.True(t, errors.Is(err, ErrNotPracticing))
}

func TestRandomLayout_IsValid(t *testing.T) {
	s := newSession(t, Deps{})
	for i := 0; i < 20; i++ {
		l := s.RandomLayout()
		assert.Equal(t, LookupOK, func() LookupStatus {
			res, err := s.Lookup(l.Encode())
			require.NoError(t, err)
			return res.Status
		}())
	}
}
