// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package squidgrid

import (
	"github.com/AleutianAI/squidgrid/services/squidgrid/engine"
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

// ServiceVersion is the squidgrid API version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StatusResponse is the response for GET /status.
type StatusResponse = session.Status

// LayoutResponse describes one layout.
type LayoutResponse struct {
	Index    *uint32  `json:"index,omitempty"`
	Encoding string   `json:"encoding"`
	Rows     []string `json:"rows"`
}

func newLayoutResponse(l layout.Layout, index *uint32) LayoutResponse {
	return LayoutResponse{Index: index, Encoding: l.Encode(), Rows: l.Rows()}
}

// SetSlotRequest is the body for PUT /history/:slot.
type SetSlotRequest struct {
	// Encoding is the drawn grid. Empty clears the slot.
	Encoding string `json:"encoding"`
}

// ConnectRequest is the body for POST /history/:slot/connect.
type ConnectRequest struct {
	From layout.Point `json:"from"`
	To   layout.Point `json:"to"`
}

// ConnectResponse reports whether a squid was drawn.
type ConnectResponse struct {
	Drawn   bool                `json:"drawn"`
	History session.HistoryView `json:"history"`
}

// LoadTableRequest is the body for POST /tables/load.
type LoadTableRequest struct {
	Variant string `json:"variant" binding:"required"`

	// Wait holds the response until the table is resident.
	Wait bool `json:"wait"`
}

// LoadTableResponse is the loader state after the request.
type LoadTableResponse = streamtable.Status

// ParamsRequest is the body for PUT /params.
type ParamsRequest struct {
	Params      *prior.Params      `json:"params"`
	TimerParams *prior.TimerParams `json:"timer_params"`
}

// ToggleRequest is the body for POST /board/toggle.
type ToggleRequest struct {
	X     int  `json:"x" binding:"min=0,max=7"`
	Y     int  `json:"y" binding:"min=0,max=7"`
	AsHit bool `json:"as_hit"`
}

// RevealRequest is the body for POST /board/reveal.
type RevealRequest struct {
	X int `json:"x" binding:"min=0,max=7"`
	Y int `json:"y" binding:"min=0,max=7"`
}

// MarkRecommendedRequest is the body for POST /board/recommended.
type MarkRecommendedRequest struct {
	AsHit bool `json:"as_hit"`
}

// KillsRequest is the body for PUT /board/kills. -1 means unknown.
type KillsRequest struct {
	Kills int `json:"kills" binding:"min=-1,max=3"`
}

// BoardResponse is the board in play.
type BoardResponse struct {
	Board  engine.Board `json:"board"`
	Hits   []int        `json:"hits"`
	Misses []int        `json:"misses"`
}

func newBoardResponse(b engine.Board) BoardResponse {
	hits, misses := b.Stats()
	return BoardResponse{Board: b, Hits: hits, Misses: misses}
}

// UndoResponse is the board after POST /board/undo.
type UndoResponse struct {
	BoardResponse

	// Undone is false when there was nothing to undo.
	Undone bool `json:"undone"`
}

// ProbabilitiesRequest is the body for POST /probabilities.
type ProbabilitiesRequest struct {
	SequenceAware bool `json:"sequence_aware"`
}

// RewardsRequest is the body for POST /timer/rewards.
type RewardsRequest struct {
	Delta int `json:"delta"`
}
