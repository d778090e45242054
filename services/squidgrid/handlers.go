// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package squidgrid exposes a session over HTTP.
//
// All routes live under /v1/squidgrid. Errors are returned as ErrorResponse
// with a machine-readable code; see classify for the mapping.
package squidgrid

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
	"github.com/AleutianAI/squidgrid/services/squidgrid/telemetry"
)

// Handlers contains the HTTP handlers for one session.
type Handlers struct {
	sess   *session.Session
	logger *slog.Logger
}

// NewHandlers creates handlers for the given session.
func NewHandlers(sess *session.Session, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{sess: sess, logger: logger}
}

// requestLogger returns a logger tagged with the request ID, the handler
// name and the trace, if any.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler))
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// fail writes the error response for err.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg + ": " + err.Error(), Code: CodeInvalidRequest})
}

// =============================================================================
// Health and status
// =============================================================================

// HandleHealth handles GET /v1/squidgrid/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleStatus handles GET /v1/squidgrid/status.
//
// Response:
//
//	200 OK: StatusResponse with the state of both tables
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Status())
}

// =============================================================================
// Layouts
// =============================================================================

// HandleLookup handles GET /v1/squidgrid/layouts/lookup?encoding=.
//
// Description:
//
//	Maps a 64-character encoding to its layout index. The status is
//	"pending" while the layout table loads and "unknown" for grids that are
//	not valid layouts.
//
// Response:
//
//	200 OK: session.Lookup
//	400 Bad Request: Malformed encoding
func (h *Handlers) HandleLookup(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLookup")
	res, err := h.sess.Lookup(c.Query("encoding"))
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleLayout handles GET /v1/squidgrid/layouts/:index.
func (h *Handlers) HandleLayout(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLayout")
	n, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		badRequest(c, logger, "Invalid layout index", err)
		return
	}
	idx := uint32(n)
	l, err := h.sess.Decode(idx)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newLayoutResponse(l, &idx))
}

// HandleRandomLayout handles GET /v1/squidgrid/layouts/random.
func (h *Handlers) HandleRandomLayout(c *gin.Context) {
	l := h.sess.RandomLayout()
	var index *uint32
	if res, err := h.sess.Lookup(l.Encode()); err == nil && res.Status == session.LookupOK {
		index = &res.Index
	}
	c.JSON(http.StatusOK, newLayoutResponse(l, index))
}

// =============================================================================
// History
// =============================================================================

// HandleGetHistory handles GET /v1/squidgrid/history.
func (h *Handlers) HandleGetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.History())
}

// HandleSetSlot handles PUT /v1/squidgrid/history/:slot.
//
// Request Body:
//
//	SetSlotRequest
//
// Response:
//
//	200 OK: session.HistoryView
//	400 Bad Request: Bad slot or encoding
func (h *Handlers) HandleSetSlot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSetSlot")
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		badRequest(c, logger, "Invalid slot", err)
		return
	}
	var req SetSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	if err := h.sess.SetSlot(slot, req.Encoding); err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, h.sess.History())
}

// HandleConnect handles POST /v1/squidgrid/history/:slot/connect.
func (h *Handlers) HandleConnect(c *gin.Context) {
	logger := h.requestLogger(c, "HandleConnect")
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		badRequest(c, logger, "Invalid slot", err)
		return
	}
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	drawn, err := h.sess.ConnectSlot(slot, req.From, req.To)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ConnectResponse{Drawn: drawn, History: h.sess.History()})
}

// HandleShiftHistory handles POST /v1/squidgrid/history/shift.
func (h *Handlers) HandleShiftHistory(c *gin.Context) {
	h.sess.ShiftHistory()
	c.JSON(http.StatusOK, h.sess.History())
}

// HandleClearHistory handles DELETE /v1/squidgrid/history.
func (h *Handlers) HandleClearHistory(c *gin.Context) {
	h.sess.ClearHistory()
	c.JSON(http.StatusOK, h.sess.History())
}

// =============================================================================
// Stream table, matches, priors
// =============================================================================

// HandleLoadTable handles POST /v1/squidgrid/tables/load.
//
// Description:
//
//	Starts or joins the stream table load. Without wait the response is
//	202 Accepted while the load runs; poll /status for progress.
//
// Response:
//
//	200 OK: LoadTableResponse, table resident
//	202 Accepted: LoadTableResponse, load in flight
//	400 Bad Request: Unknown variant
//	409 Conflict: Another variant was already chosen
//	502 Bad Gateway: Fetch failed
func (h *Handlers) HandleLoadTable(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLoadTable")
	var req LoadTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	v, err := streamtable.ParseVariant(req.Variant)
	if err != nil {
		fail(c, logger, err)
		return
	}
	logger.Info("Loading stream table", slog.String("variant", string(v)), slog.Bool("wait", req.Wait))

	st, err := h.sess.LoadStreamTable(c.Request.Context(), v, req.Wait)
	if err != nil {
		fail(c, logger, err)
		return
	}
	status := http.StatusOK
	if st.State != streamtable.Ready {
		status = http.StatusAccepted
	}
	c.JSON(status, st)
}

// HandleMatches handles POST /v1/squidgrid/matches.
func (h *Handlers) HandleMatches(c *gin.Context) {
	logger := h.requestLogger(c, "HandleMatches")
	res, err := h.sess.Matches(c.Request.Context())
	if err != nil {
		fail(c, logger, err)
		return
	}
	logger.Info("Sequence search complete",
		slog.Int("observed", len(res.Observed)),
		slog.Int("alignments", len(res.Alignments)))
	c.JSON(http.StatusOK, res)
}

// HandlePriors handles POST /v1/squidgrid/priors.
func (h *Handlers) HandlePriors(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Priors())
}

// HandleGetParams handles GET /v1/squidgrid/params.
func (h *Handlers) HandleGetParams(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Params())
}

// HandleSetParams handles PUT /v1/squidgrid/params.
func (h *Handlers) HandleSetParams(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSetParams")
	var req ParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	if req.Params != nil {
		if err := prior.ValidateParams(*req.Params); err != nil {
			badRequest(c, logger, "Invalid params", err)
			return
		}
		h.sess.SetParams(*req.Params)
	}
	if req.TimerParams != nil {
		h.sess.SetTimerParams(*req.TimerParams)
	}
	c.JSON(http.StatusOK, h.sess.Params())
}

// =============================================================================
// Board in play
// =============================================================================

// HandleGetBoard handles GET /v1/squidgrid/board.
func (h *Handlers) HandleGetBoard(c *gin.Context) {
	c.JSON(http.StatusOK, newBoardResponse(h.sess.Board()))
}

// HandleToggle handles POST /v1/squidgrid/board/toggle.
func (h *Handlers) HandleToggle(c *gin.Context) {
	logger := h.requestLogger(c, "HandleToggle")
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	b := h.sess.ToggleCell(layout.Point{X: req.X, Y: req.Y}, req.AsHit)
	c.JSON(http.StatusOK, newBoardResponse(b))
}

// HandleSetKills handles PUT /v1/squidgrid/board/kills.
func (h *Handlers) HandleSetKills(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSetKills")
	var req KillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	c.JSON(http.StatusOK, newBoardResponse(h.sess.SetKills(req.Kills)))
}

// HandleUndo handles POST /v1/squidgrid/board/undo.
func (h *Handlers) HandleUndo(c *gin.Context) {
	b, ok := h.sess.Undo()
	c.JSON(http.StatusOK, UndoResponse{BoardResponse: newBoardResponse(b), Undone: ok})
}

// HandleMarkRecommended handles POST /v1/squidgrid/board/recommended.
//
// Description:
//
//	Marks the cell suggested by the last /probabilities call as a hit or a
//	miss. A practice round reveals it instead.
//
// Response:
//
//	200 OK: BoardResponse
//	409 Conflict: No suggestion stands for the current board
func (h *Handlers) HandleMarkRecommended(c *gin.Context) {
	logger := h.requestLogger(c, "HandleMarkRecommended")
	var req MarkRecommendedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, logger, "Invalid request body", err)
			return
		}
	}
	b, err := h.sess.MarkRecommended(req.AsHit)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newBoardResponse(b))
}

// HandleResetBoard handles DELETE /v1/squidgrid/board.
func (h *Handlers) HandleResetBoard(c *gin.Context) {
	h.sess.ResetBoard()
	c.JSON(http.StatusOK, newBoardResponse(h.sess.Board()))
}

// HandleStartPractice handles POST /v1/squidgrid/board/practice.
func (h *Handlers) HandleStartPractice(c *gin.Context) {
	h.sess.StartPractice()
	c.JSON(http.StatusOK, newBoardResponse(h.sess.Board()))
}

// HandleReveal handles POST /v1/squidgrid/board/reveal.
func (h *Handlers) HandleReveal(c *gin.Context) {
	logger := h.requestLogger(c, "HandleReveal")
	var req RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	b, err := h.sess.Reveal(layout.Point{X: req.X, Y: req.Y})
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newBoardResponse(b))
}

// HandleProbabilities handles POST /v1/squidgrid/probabilities.
//
// Description:
//
//	Sends the board in play to the probability engine, optionally with the
//	observed history and its priors, and suggests the next cell.
//
// Response:
//
//	200 OK: session.Probabilities
//	409 Conflict: No layout is consistent with the board
//	503 Service Unavailable: Engine unreachable or not configured
func (h *Handlers) HandleProbabilities(c *gin.Context) {
	logger := h.requestLogger(c, "HandleProbabilities")
	var req ProbabilitiesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, logger, "Invalid request body", err)
			return
		}
	}
	res, err := h.sess.Probabilities(c.Request.Context(), req.SequenceAware)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleCommit handles POST /v1/squidgrid/commit.
//
// Response:
//
//	200 OK: session.CommitResult
//	409 Conflict: Board does not identify a single layout; history unchanged
func (h *Handlers) HandleCommit(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCommit")
	res, err := h.sess.Commit(c.Request.Context())
	if err != nil {
		fail(c, logger, err)
		return
	}
	logger.Info("Board committed", slog.Uint64("index", uint64(res.Index)), slog.Int("slot", res.Slot))
	c.JSON(http.StatusOK, res)
}

// =============================================================================
// Board timer
// =============================================================================

// HandleTimer handles GET /v1/squidgrid/timer.
func (h *Handlers) HandleTimer(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.TimerState())
}

// HandleSplit handles POST /v1/squidgrid/timer/split.
func (h *Handlers) HandleSplit(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Split(c.Request.Context()))
}

// HandleRewards handles POST /v1/squidgrid/timer/rewards.
func (h *Handlers) HandleRewards(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRewards")
	var req RewardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	c.JSON(http.StatusOK, h.sess.AdjustRewards(req.Delta))
}

// HandleInvalidate handles POST /v1/squidgrid/timer/invalidate.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.ToggleInvalidated())
}

// HandleResetTimer handles POST /v1/squidgrid/timer/reset.
func (h *Handlers) HandleResetTimer(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.ResetTimer())
}
