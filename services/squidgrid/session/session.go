// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the state of one player's session: the layout
// index table, the stream table, the board history, the board timer, the
// board in play and the belief parameters.
//
// Nothing here is global. The HTTP surface and the CLI each build a Session
// and call it; every method is safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/squidgrid/services/squidgrid/engine"
	"github.com/AleutianAI/squidgrid/services/squidgrid/history"
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/matcher"
	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

var (
	// ErrTableNotReady indicates the layout index table is still loading.
	ErrTableNotReady = errors.New("layout table not ready")

	// ErrStreamTableNotReady indicates no stream table has been loaded.
	ErrStreamTableNotReady = errors.New("stream table not ready")

	// ErrUnknownIndex indicates an index outside the layout table.
	ErrUnknownIndex = errors.New("unknown layout index")

	// ErrNoEngine indicates the session was built without an engine.
	ErrNoEngine = errors.New("no probability engine configured")

	// ErrNotPracticing indicates a reveal without a hidden practice layout.
	ErrNotPracticing = errors.New("no practice layout in play")

	// ErrBoardChanged indicates the board or the history changed while the
	// engine was identifying the board.
	ErrBoardChanged = errors.New("board changed during commit")

	// ErrNoRecommendation indicates there is no standing suggestion for the
	// board in play.
	ErrNoRecommendation = errors.New("no recommended cell for the board in play")
)

// BlobCache is the persistent cache shared by the layout table and the
// stream table.
type BlobCache interface {
	Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// Config holds the tunables of a session.
type Config struct {
	// HistoryCapacity is the number of history slots. Default: 3
	HistoryCapacity int

	// Params are the belief parameters used for priors.
	Params prior.Params

	// TimerParams are the board timer regression coefficients.
	TimerParams prior.TimerParams

	// OuterWindow and NestedWindow bound the sequence search.
	OuterWindow  int
	NestedWindow int

	// MatchLimit caps the alignments returned by Matches. Default: 100
	MatchLimit int
}

// DefaultConfig returns the stock session configuration.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: history.DefaultCapacity,
		Params:          prior.DefaultParams(),
		TimerParams:     prior.DefaultTimerParams(),
		OuterWindow:     matcher.DefaultOuterWindow,
		NestedWindow:    matcher.DefaultNestedWindow,
		MatchLimit:      100,
	}
}

// Deps are the collaborators of a session. Every field may be nil.
type Deps struct {
	Cache  BlobCache
	Source streamtable.Source
	Engine engine.Engine
	Logger *slog.Logger

	// Now replaces time.Now for the board timer.
	Now func() time.Time

	// Rand drives practice layouts.
	Rand *rand.Rand
}

// Session is one player's session.
//
// Thread Safety: Safe for concurrent use. mu guards the history, the board,
// the practice layout and the parameters; the layout table is published
// once through an atomic pointer.
type Session struct {
	cfg    Config
	cache  BlobCache
	engine engine.Engine
	loader *streamtable.Loader
	timer  *prior.SplitTimer
	logger *slog.Logger

	layoutMu      sync.Mutex
	table         atomic.Pointer[layout.IndexTable]
	layoutLoading atomic.Bool

	mu       sync.Mutex
	history  *history.History
	board    *engine.Board
	undo     engine.UndoStack
	rec      *recommendation
	practice *layout.Layout
	params   prior.Params
	rng      *rand.Rand
}

// New creates a session. The layout table is not loaded until LoadLayouts.
func New(cfg Config, deps Deps) *Session {
	if cfg.MatchLimit <= 0 {
		cfg.MatchLimit = DefaultConfig().MatchLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &Session{
		cfg:     cfg,
		cache:   deps.Cache,
		engine:  deps.Engine,
		loader:  streamtable.NewLoader(deps.Cache, deps.Source, logger),
		timer:   prior.NewSplitTimer(cfg.TimerParams, deps.Now),
		logger:  logger.With(slog.String("component", "session")),
		history: history.New(cfg.HistoryCapacity),
		board:   engine.NewBoard(),
		params:  cfg.Params,
		rng:     rng,
	}
}

// =============================================================================
// Layout table
// =============================================================================

// LoadLayouts builds or reads the layout index table. Concurrent calls wait
// for the first; later calls return at once.
func (s *Session) LoadLayouts(ctx context.Context) error {
	s.layoutMu.Lock()
	defer s.layoutMu.Unlock()
	if s.table.Load() != nil {
		return nil
	}

	s.layoutLoading.Store(true)
	defer s.layoutLoading.Store(false)

	t, err := layout.Load(ctx, s.cache, s.logger)
	if err != nil {
		return fmt.Errorf("load layout table: %w", err)
	}
	s.table.Store(t)
	s.logger.Info("layout table ready", slog.Int("layouts", t.Len()))
	return nil
}

// LookupStatus is the outcome of an encoding lookup.
type LookupStatus string

const (
	LookupOK      LookupStatus = "ok"
	LookupPending LookupStatus = "pending"
	LookupUnknown LookupStatus = "unknown"
)

// Lookup is the result of Lookup.
type Lookup struct {
	Status LookupStatus `json:"status"`
	Index  uint32       `json:"index"`
}

// Lookup maps an encoding to its layout index.
//
// Description:
//
//	While the table is still loading the status is pending. A well formed
//	encoding that is not a valid layout is unknown. Only a malformed
//	encoding is an error.
func (s *Session) Lookup(encoding string) (Lookup, error) {
	if _, err := layout.Parse(encoding); err != nil {
		return Lookup{}, err
	}
	t := s.table.Load()
	if t == nil {
		return Lookup{Status: LookupPending}, nil
	}
	idx, ok := t.Index(encoding)
	if !ok {
		return Lookup{Status: LookupUnknown}, nil
	}
	return Lookup{Status: LookupOK, Index: idx}, nil
}

// Decode maps an index back to its layout.
func (s *Session) Decode(index uint32) (layout.Layout, error) {
	t := s.table.Load()
	if t == nil {
		return layout.Layout{}, ErrTableNotReady
	}
	l, ok := t.Layout(index)
	if !ok {
		return layout.Layout{}, fmt.Errorf("%w: %d", ErrUnknownIndex, index)
	}
	return l, nil
}

// LayoutCount returns the number of layouts, or zero while loading.
func (s *Session) LayoutCount() int {
	if t := s.table.Load(); t != nil {
		return t.Len()
	}
	return 0
}

// RandomLayout draws a practice-style layout without changing the session.
func (s *Session) RandomLayout() layout.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return layout.Random(s.rng)
}

// =============================================================================
// Status
// =============================================================================

// LayoutTableStatus describes the layout index table.
type LayoutTableStatus struct {
	State   streamtable.State `json:"state"`
	Layouts int               `json:"layouts"`
}

// Status is a snapshot of both tables.
type Status struct {
	LayoutTable LayoutTableStatus  `json:"layout_table"`
	StreamTable streamtable.Status `json:"stream_table"`
}

// Status reports where both tables are.
func (s *Session) Status() Status {
	lt := LayoutTableStatus{State: streamtable.NotStarted}
	switch {
	case s.table.Load() != nil:
		lt.State = streamtable.Ready
		lt.Layouts = s.table.Load().Len()
	case s.layoutLoading.Load():
		lt.State = streamtable.Loading
	}
	return Status{LayoutTable: lt, StreamTable: s.loader.Status()}
}

// =============================================================================
// Stream table
// =============================================================================

// LoadStreamTable starts or joins the stream table load for v.
//
// Description:
//
//	With wait set the call returns once the table is resident or the load
//	fails. Without it the call returns as soon as the load is under way;
//	a variant conflict is still reported immediately.
func (s *Session) LoadStreamTable(ctx context.Context, v streamtable.Variant, wait bool) (streamtable.Status, error) {
	if !wait {
		// The loader detaches the download from ctx, so a done context
		// starts it and returns without waiting.
		started, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.loader.Load(started, v); err != nil && !errors.Is(err, context.Canceled) {
			return s.loader.Status(), err
		}
		return s.loader.Status(), nil
	}
	_, err := s.loader.Load(ctx, v)
	return s.loader.Status(), err
}

// =============================================================================
// History
// =============================================================================

// HistoryView is a snapshot of the history.
type HistoryView struct {
	Slots    []string `json:"slots"`
	Observed []uint32 `json:"observed"`
}

// History returns the slot encodings and the observed index sequence.
func (s *Session) History() HistoryView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HistoryView{Slots: s.history.Slots(), Observed: s.observedLocked()}
}

// SetSlot replaces one history slot with a drawn grid.
func (s *Session) SetSlot(i int, encoding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Set(i, encoding)
}

// ConnectSlot draws a squid between two cells of one history slot.
func (s *Session) ConnectSlot(i int, from, to layout.Point) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Connect(i, from, to)
}

// ShiftHistory drops the oldest slot.
func (s *Session) ShiftHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Shift()
}

// ClearHistory empties every slot.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
}

// Observed returns a copy of the observed index sequence.
func (s *Session) Observed() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observedLocked()
}

func (s *Session) observedLocked() []uint32 {
	t := s.table.Load()
	if t == nil {
		return []uint32{}
	}
	return s.history.Observed(t)
}

// =============================================================================
// Matches and priors
// =============================================================================

// MatchResult lists alignments of the observed sequence.
type MatchResult struct {
	Observed   []uint32            `json:"observed"`
	Alignments []matcher.Alignment `json:"alignments"`
	Truncated  bool                `json:"truncated"`
}

// Matches searches the stream table for the current observed sequence.
// An empty sequence returns no alignments without searching.
func (s *Session) Matches(ctx context.Context) (MatchResult, error) {
	table, ok := s.loader.Table()
	if !ok {
		return MatchResult{}, ErrStreamTableNotReady
	}
	observed := s.Observed()
	res := MatchResult{Observed: observed, Alignments: []matcher.Alignment{}}
	if len(observed) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	m := matcher.New(table,
		matcher.WithOuterWindow(s.cfg.OuterWindow),
		matcher.WithNestedWindow(s.cfg.NestedWindow))
	found := m.FindFirst(observed, s.cfg.MatchLimit+1)
	if len(found) > s.cfg.MatchLimit {
		found = found[:s.cfg.MatchLimit]
		res.Truncated = true
	}
	if found != nil {
		res.Alignments = found
	}
	return res, nil
}

// Priors builds the prior arrays for the current history and timer.
func (s *Session) Priors() prior.Priors {
	s.mu.Lock()
	observed := s.observedLocked()
	params := s.params
	s.mu.Unlock()
	return prior.Build(observed, params, s.timer.Estimate())
}

// Params returns the belief parameters in use.
func (s *Session) Params() prior.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams replaces the belief parameters.
func (s *Session) SetParams(p prior.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

// SetTimerParams replaces the board timer coefficients.
func (s *Session) SetTimerParams(p prior.TimerParams) {
	s.timer.SetParams(p)
}

// =============================================================================
// Board in play
// =============================================================================

// Board returns a copy of the board in play.
func (s *Session) Board() engine.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.board
}

// ToggleCell cycles one cell of the board in play.
func (s *Session) ToggleCell(p layout.Point, asHit bool) engine.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo.Push(*s.board)
	s.board.Toggle(p, asHit)
	return *s.board
}

// SetKills sets the kill count of the board in play.
func (s *Session) SetKills(n int) engine.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := *s.board
	s.board.SetKills(n)
	if *s.board != before {
		s.undo.Push(before)
	}
	return *s.board
}

// Undo restores the board as it was before the last mark. ok is false
// when there is nothing to undo.
func (s *Session) Undo() (b engine.Board, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.undo.Pop()
	if ok {
		*s.board = prev
	}
	return *s.board, ok
}

// MarkRecommended marks the cell last suggested by Probabilities as a hit
// or a miss. In a practice round the cell is revealed instead and asHit is
// ignored. The suggestion only stands while the board is unchanged since it
// was made and the cell is still unmarked.
func (s *Session) MarkRecommended(asHit bool) (engine.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil || s.rec.board != *s.board || s.board.Marks[s.rec.cell.Index()] != engine.Unknown {
		return *s.board, ErrNoRecommendation
	}
	cell := s.rec.cell
	s.undo.Push(*s.board)
	if s.practice != nil {
		s.board.Reveal(cell, *s.practice)
	} else {
		s.board.Toggle(cell, asHit)
	}
	return *s.board, nil
}

// ResetBoard clears the board in play and ends any practice round.
func (s *Session) ResetBoard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBoardLocked()
	s.practice = nil
}

// StartPractice clears the board and hides a random layout under it.
func (s *Session) StartPractice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := layout.Random(s.rng)
	s.practice = &l
	s.clearBoardLocked()
}

func (s *Session) clearBoardLocked() {
	s.board.Reset()
	s.undo.Clear()
	s.rec = nil
}

// Reveal uncovers a cell of the hidden practice layout.
func (s *Session) Reveal(p layout.Point) (engine.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.practice == nil {
		return *s.board, ErrNotPracticing
	}
	s.undo.Push(*s.board)
	s.board.Reveal(p, *s.practice)
	return *s.board, nil
}

// Probabilities is the engine answer for the board in play.
type Probabilities struct {
	Result      engine.Result `json:"result"`
	Recommended *layout.Point `json:"recommended,omitempty"`
	Priors      *prior.Priors `json:"priors,omitempty"`
}

// recommendation is the cell suggested for a given board.
type recommendation struct {
	board engine.Board
	cell  layout.Point
}

// boardQuery is a consistent view of the board and the history it is
// judged against.
type boardQuery struct {
	board    engine.Board
	observed []uint32
	req      engine.Request
	priors   *prior.Priors
}

// snapshot captures the board in play and, when sequenceAware is set, the
// observed history with priors built from est.
func (s *Session) snapshot(sequenceAware bool, est prior.Estimate) boardQuery {
	s.mu.Lock()
	q := boardQuery{board: *s.board, observed: s.observedLocked()}
	params := s.params
	s.mu.Unlock()

	q.req = q.board.Request()
	if sequenceAware {
		p := prior.Build(q.observed, params, est)
		q.priors = &p
		q.req.SequenceAware = true
		q.req.Observed = p.Observed
		q.req.PriorMeans = p.Means
		q.req.PriorStdDevs = p.StdDevs
	}
	return q
}

// Probabilities asks the engine for per-cell hit probabilities.
//
// Inputs:
//
//	ctx - Bounds the engine call.
//	sequenceAware - Condition on the observed history and its priors.
//
// Outputs:
//
//	Probabilities - The result and the cell to suggest next, if any.
//	error - ErrNoEngine, or an engine error such as ErrNoValidAssignment.
func (s *Session) Probabilities(ctx context.Context, sequenceAware bool) (Probabilities, error) {
	if s.engine == nil {
		return Probabilities{}, ErrNoEngine
	}
	q := s.snapshot(sequenceAware, s.timer.Estimate())

	res, err := s.engine.Probabilities(ctx, q.req)
	if err != nil {
		return Probabilities{}, err
	}
	out := Probabilities{Result: res, Priors: q.priors}
	if best, ok := engine.Recommend(res, &q.board); ok {
		out.Recommended = &best
		s.mu.Lock()
		s.rec = &recommendation{board: q.board, cell: best}
		s.mu.Unlock()
	}
	return out, nil
}

// CommitResult describes a board appended to the history.
type CommitResult struct {
	Index uint32 `json:"index"`
	Slot  int    `json:"slot"`
}

// Commit identifies the finished board in play against the observed
// history and appends it, then clears the board.
//
// Description:
//
//	The engine gets the board together with the observed indices and the
//	priors built from the last timer estimate. If the board or the history
//	changes while the engine works, the answer is dropped with
//	ErrBoardChanged. On any error, including engine.ErrNoValidAssignment,
//	nothing changes.
func (s *Session) Commit(ctx context.Context) (CommitResult, error) {
	return s.commit(ctx, s.timer.Estimate())
}

func (s *Session) commit(ctx context.Context, est prior.Estimate) (CommitResult, error) {
	if s.engine == nil {
		return CommitResult{}, ErrNoEngine
	}
	t := s.table.Load()
	if t == nil {
		return CommitResult{}, ErrTableNotReady
	}
	q := s.snapshot(true, est)

	idx, err := s.engine.Disambiguate(ctx, q.req)
	if err != nil {
		return CommitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if *s.board != q.board || !slices.Equal(s.observedLocked(), q.observed) {
		return CommitResult{}, ErrBoardChanged
	}
	slot, err := s.history.Commit(t, idx)
	if err != nil {
		return CommitResult{}, err
	}
	s.clearBoardLocked()
	s.practice = nil
	s.logger.Info("board committed", slog.Uint64("index", uint64(idx)), slog.Int("slot", slot))
	return CommitResult{Index: idx, Slot: slot}, nil
}

// =============================================================================
// Board timer
// =============================================================================

// SplitResult is the outcome of a timer split.
type SplitResult struct {
	Estimate prior.Estimate `json:"estimate"`

	// Started is set when the split only started the timer.
	Started bool `json:"started"`

	// Commit is set when the finished board was appended to the history.
	Commit *CommitResult `json:"commit,omitempty"`

	// CommitError explains why the board was not appended.
	CommitError string `json:"commit_error,omitempty"`
}

// Split ends the current board interval and tries to commit the finished
// board. The finished board is identified with the estimate that was in
// force while it was played; the new estimate applies to the next board.
// A failed commit does not undo the split.
func (s *Session) Split(ctx context.Context) SplitResult {
	prev := s.timer.Estimate()
	est, ended := s.timer.Split()
	res := SplitResult{Estimate: est, Started: !ended}
	if !ended {
		return res
	}
	commit, err := s.commit(ctx, prev)
	if err != nil {
		s.logger.Warn("split without commit", slog.String("error", err.Error()))
		res.CommitError = err.Error()
		return res
	}
	res.Commit = &commit
	return res
}

// AdjustRewards changes the reward count of the running interval.
func (s *Session) AdjustRewards(delta int) prior.TimerState {
	s.timer.AdjustRewards(delta)
	return s.timer.State()
}

// ToggleInvalidated flips whether the running interval is usable.
func (s *Session) ToggleInvalidated() prior.TimerState {
	s.timer.ToggleInvalidated()
	return s.timer.State()
}

// ResetTimer stops the timer and clears its estimate.
func (s *Session) ResetTimer() prior.TimerState {
	s.timer.Reset()
	return s.timer.State()
}

// TimerState returns a snapshot of the board timer.
func (s *Session) TimerState() prior.TimerState {
	return s.timer.State()
}
