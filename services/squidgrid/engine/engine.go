// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine defines the contract with the external probability engine
// and the board bookkeeping that feeds it.
//
// The engine itself lives outside this module. It receives the marked cells,
// the kill count and, in sequence-aware mode, the observed layout indices
// with their step priors, and answers with per-cell hit probabilities or the
// index of the only layout consistent with a finished board.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
)

// ResultLen is the length of a raw engine answer: one probability per cell
// plus the probability of the observation itself.
const ResultLen = layout.CellCount + 1

var (
	// ErrNoValidAssignment indicates no layout is consistent with the
	// request. The caller should not advance any state.
	ErrNoValidAssignment = errors.New("no valid assignment")

	// ErrEngineUnavailable indicates the engine could not be reached.
	ErrEngineUnavailable = errors.New("probability engine unavailable")

	// ErrMalformedResult indicates the engine answered with the wrong shape.
	ErrMalformedResult = errors.New("malformed engine result")

	// ErrInvalidRequest indicates a request failed validation.
	ErrInvalidRequest = errors.New("invalid engine request")
)

// Request is one engine query.
type Request struct {
	Hits   []int `json:"hits" validate:"dive,gte=0,lt=64"`
	Misses []int `json:"misses" validate:"dive,gte=0,lt=64"`

	// Kills is the number of squids confirmed killed, or -1 when unknown.
	Kills int `json:"kills" validate:"gte=-1,lte=3"`

	// SequenceAware selects the history-conditioned query. The remaining
	// fields are only sent when it is set.
	SequenceAware bool      `json:"sequence_aware"`
	Observed      []uint32  `json:"observed,omitempty"`
	PriorMeans    []float64 `json:"prior_means,omitempty" validate:"dive,gte=0"`
	PriorStdDevs  []float64 `json:"prior_stddevs,omitempty" validate:"dive,gte=0"`
}

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	requestValidate.RegisterStructValidation(validatePriorShape, Request{})
}

// validatePriorShape requires one mean and one stddev per observed board
// plus the trailing entry when the request is sequence aware.
func validatePriorShape(sl validator.StructLevel) {
	r := sl.Current().Interface().(Request)
	if !r.SequenceAware {
		return
	}
	want := len(r.Observed) + 1
	if len(r.PriorMeans) != want {
		sl.ReportError(r.PriorMeans, "PriorMeans", "PriorMeans", "priorlen", fmt.Sprint(want))
	}
	if len(r.PriorStdDevs) != want {
		sl.ReportError(r.PriorStdDevs, "PriorStdDevs", "PriorStdDevs", "priorlen", fmt.Sprint(want))
	}
}

// Validate checks field ranges and the prior array lengths.
func (r *Request) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Result is a decoded engine answer.
type Result struct {
	Cells           [layout.CellCount]float64 `json:"cells"`
	ObservationProb float64                   `json:"observation_prob"`
}

// ParseResult decodes the raw 65-value answer.
func ParseResult(values []float64) (Result, error) {
	var r Result
	if len(values) != ResultLen {
		return r, fmt.Errorf("%w: %d values, want %d", ErrMalformedResult, len(values), ResultLen)
	}
	copy(r.Cells[:], values[:layout.CellCount])
	r.ObservationProb = values[layout.CellCount]
	return r, nil
}

// Engine is the external probability engine.
type Engine interface {
	// Probabilities returns per-cell hit probabilities, or an error
	// wrapping ErrNoValidAssignment.
	Probabilities(ctx context.Context, req Request) (Result, error)

	// Disambiguate returns the index of the single layout consistent with
	// a board, or an error wrapping ErrNoValidAssignment when there is
	// none or more than one.
	Disambiguate(ctx context.Context, req Request) (uint32, error)
}
