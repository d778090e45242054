// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prior

import (
	"math"
	"sync"
	"time"
)

const (
	// loadingRoomSteps is the regression offset applied while the timed
	// interval still includes loading the room.
	loadingRoomSteps = -940

	// rewardSteps is the regression offset per reward collected.
	rewardSteps = 760

	// MaxRewards is the most rewards one interval can include.
	MaxRewards = 2
)

// TimerParams are the regression coefficients converting seconds to steps.
type TimerParams struct {
	TickIntercept     float64 `json:"tick_intercept" yaml:"tick_intercept"`
	TickRate          float64 `json:"tick_rate" yaml:"tick_rate" validate:"gt=0"`
	RoomEnteredOffset float64 `json:"room_entered_offset" yaml:"room_entered_offset"`
}

// DefaultTimerParams returns the stock regression.
func DefaultTimerParams() TimerParams {
	return TimerParams{
		TickIntercept:     156,
		TickRate:          252,
		RoomEnteredOffset: 0,
	}
}

// StepEstimator converts elapsed time to an RNG step count.
type StepEstimator struct {
	Params TimerParams
}

// Estimate returns the rounded step count for an interval.
//
// Inputs:
//
//	seconds - Elapsed wall time.
//	loadingRoom - Whether the interval includes loading the room.
//	rewards - Rewards collected, clamped to [0, MaxRewards].
func (e StepEstimator) Estimate(seconds float64, loadingRoom bool, rewards int) int64 {
	steps := e.Params.TickIntercept + e.Params.TickRate*seconds
	if loadingRoom {
		steps += loadingRoomSteps + e.Params.RoomEnteredOffset
	}
	steps += float64(rewardSteps * clampRewards(rewards))
	return int64(math.Round(steps))
}

func clampRewards(n int) int {
	return max(0, min(MaxRewards, n))
}

// TimerState is a snapshot of a SplitTimer.
type TimerState struct {
	Running     bool     `json:"running"`
	Seconds     float64  `json:"seconds"`
	LoadingRoom bool     `json:"loading_room"`
	Rewards     int      `json:"rewards"`
	Invalidated bool     `json:"invalidated"`
	LiveSteps   *int64   `json:"live_steps,omitempty"`
	Estimate    Estimate `json:"estimate"`
}

// SplitTimer times the interval between boards.
//
// Description:
//
//	The first Split starts the timer. Each later Split closes the running
//	interval and records its step estimate, or clears the estimate when
//	the interval was invalidated, then starts a new interval that no
//	longer includes loading the room and has no rewards. Reset returns to
//	the initial state.
//
// Thread Safety: Safe for concurrent use.
type SplitTimer struct {
	mu          sync.Mutex
	now         func() time.Time
	estimator   StepEstimator
	running     bool
	started     time.Time
	loadingRoom bool
	rewards     int
	invalidated bool
	estimate    Estimate
}

// NewSplitTimer creates a stopped timer. now may be nil for time.Now.
func NewSplitTimer(params TimerParams, now func() time.Time) *SplitTimer {
	if now == nil {
		now = time.Now
	}
	return &SplitTimer{
		now:         now,
		estimator:   StepEstimator{Params: params},
		loadingRoom: true,
	}
}

// SetParams replaces the regression coefficients.
func (t *SplitTimer) SetParams(params TimerParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.estimator.Params = params
}

// Split starts the timer, or ends the current interval and begins the next.
//
// Outputs:
//
//	Estimate - The estimate after the split.
//	bool - False when this call only started the timer.
func (t *SplitTimer) Split() (Estimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.elapsed()
	if elapsed == 0 && !t.invalidated {
		t.running = true
		t.started = t.now()
		return t.estimate, false
	}

	if t.invalidated {
		t.estimate = NoEstimate
	} else {
		t.estimate = EstimateOf(t.estimator.Estimate(elapsed, t.loadingRoom, t.rewards))
	}
	t.running = true
	t.started = t.now()
	t.loadingRoom = false
	t.rewards = 0
	t.invalidated = false
	return t.estimate, true
}

// AdjustRewards adds delta to the reward count, clamped to [0, MaxRewards].
func (t *SplitTimer) AdjustRewards(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rewards = clampRewards(t.rewards + delta)
	return t.rewards
}

// ToggleInvalidated flips whether the current interval is usable.
func (t *SplitTimer) ToggleInvalidated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidated = !t.invalidated
	return t.invalidated
}

// Reset stops the timer and clears the estimate.
func (t *SplitTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.loadingRoom = true
	t.rewards = 0
	t.invalidated = false
	t.estimate = NoEstimate
}

// Estimate returns the estimate recorded by the last split.
func (t *SplitTimer) Estimate() Estimate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimate
}

// State returns a snapshot including the live estimate for the running
// interval.
func (t *SplitTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TimerState{
		Running:     t.running,
		Seconds:     t.elapsed(),
		LoadingRoom: t.loadingRoom,
		Rewards:     t.rewards,
		Invalidated: t.invalidated,
		Estimate:    t.estimate,
	}
	if !t.invalidated {
		live := t.estimator.Estimate(st.Seconds, t.loadingRoom, t.rewards)
		st.LiveSteps = &live
	}
	return st
}

func (t *SplitTimer) elapsed() float64 {
	if !t.running {
		return 0
	}
	return t.now().Sub(t.started).Seconds()
}
