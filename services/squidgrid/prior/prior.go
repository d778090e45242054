// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prior turns belief parameters and elapsed time into the per-board
// step-count priors consumed by the probability engine.
//
// All step parameters are configured in thousands of RNG steps and scaled by
// 1000 when the arrays are built.
package prior

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidParams indicates belief parameters outside their valid ranges.
var ErrInvalidParams = errors.New("invalid belief parameters")

var paramsValidate = validator.New()

// Params are the belief parameters, in thousands of steps.
type Params struct {
	// FirstBoardSteps is the expected number of steps before the first
	// observed board.
	FirstBoardSteps       float64 `json:"first_board_steps" yaml:"first_board_steps" validate:"gte=0"`
	FirstBoardStepsStdDev float64 `json:"first_board_steps_stddev" yaml:"first_board_steps_stddev" validate:"gt=0"`

	// NextBoardSteps is the expected number of steps between consecutive
	// boards.
	NextBoardSteps       float64 `json:"next_board_steps" yaml:"next_board_steps" validate:"gte=0"`
	NextBoardStepsStdDev float64 `json:"next_board_steps_stddev" yaml:"next_board_steps_stddev" validate:"gt=0"`

	// TimedBoardStepsStdDev is the uncertainty of a timer-derived estimate.
	TimedBoardStepsStdDev float64 `json:"timed_board_steps_stddev" yaml:"timed_board_steps_stddev" validate:"gt=0"`

	// UseTimer enables the timer estimate for the trailing entry.
	UseTimer bool `json:"use_timer" yaml:"use_timer"`
}

// DefaultParams returns the stock belief parameters.
func DefaultParams() Params {
	return Params{
		FirstBoardSteps:       500,
		FirstBoardStepsStdDev: 500,
		NextBoardSteps:        7,
		NextBoardStepsStdDev:  3,
		TimedBoardStepsStdDev: 0.2,
		UseTimer:              true,
	}
}

// ValidateParams checks p against its field constraints.
func ValidateParams(p Params) error {
	if err := paramsValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Estimate is an optional timer-derived step count.
type Estimate struct {
	Steps int64 `json:"steps"`
	Valid bool  `json:"valid"`
}

// NoEstimate is the absent estimate.
var NoEstimate = Estimate{}

// EstimateOf wraps a step count as a valid estimate.
func EstimateOf(steps int64) Estimate {
	return Estimate{Steps: steps, Valid: true}
}

// Priors are the arrays handed to the probability engine. Means and StdDevs
// have one entry per observed board plus a trailing entry for the board in
// play.
type Priors struct {
	Observed []uint32  `json:"observed"`
	Means    []float64 `json:"means"`
	StdDevs  []float64 `json:"stddevs"`
}

// Build constructs the prior arrays.
//
// Description:
//
//	Entry 0 describes the steps leading to the first board and uses the
//	first-board parameters. Every later entry uses the next-board
//	parameters, except the trailing entry when it is not also entry 0, the
//	estimate is valid and p.UseTimer is set: then the mean is the estimate
//	clamped at zero and the stddev is the timed stddev.
//
// Inputs:
//
//	observed - Observed layout indices, oldest first. Copied.
//	p - Belief parameters in thousands of steps.
//	estimate - Timer estimate in steps.
//
// Outputs:
//
//	Priors - Arrays of length len(observed)+1.
func Build(observed []uint32, p Params, estimate Estimate) Priors {
	n := len(observed) + 1
	out := Priors{
		Observed: append([]uint32(nil), observed...),
		Means:    make([]float64, n),
		StdDevs:  make([]float64, n),
	}
	if out.Observed == nil {
		out.Observed = []uint32{}
	}

	for i := 0; i < n; i++ {
		switch {
		case i == 0:
			out.Means[i] = 1000 * p.FirstBoardSteps
			out.StdDevs[i] = 1000 * p.FirstBoardStepsStdDev
		case i == n-1 && estimate.Valid && p.UseTimer:
			out.Means[i] = math.Max(0, float64(estimate.Steps))
			out.StdDevs[i] = 1000 * p.TimedBoardStepsStdDev
		default:
			out.Means[i] = 1000 * p.NextBoardSteps
			out.StdDevs[i] = 1000 * p.NextBoardStepsStdDev
		}
	}
	return out
}
