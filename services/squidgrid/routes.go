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
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/squidgrid/services/squidgrid/telemetry"
)

// RegisterRoutes registers all squidgrid routes with the router.
//
// Description:
//
//	Registers all /v1/squidgrid/* endpoints with the given Gin router group.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/squidgrid/health - Liveness
//	GET    /v1/squidgrid/status - Layout and stream table state
//	GET    /v1/squidgrid/layouts/lookup - Encoding to index
//	GET    /v1/squidgrid/layouts/random - Random practice layout
//	GET    /v1/squidgrid/layouts/:index - Index to layout
//	GET    /v1/squidgrid/history - Slots and observed indices
//	PUT    /v1/squidgrid/history/:slot - Set a drawn slot
//	POST   /v1/squidgrid/history/:slot/connect - Draw a squid in a slot
//	POST   /v1/squidgrid/history/shift - Drop the oldest slot
//	DELETE /v1/squidgrid/history - Clear every slot
//	POST   /v1/squidgrid/tables/load - Start or join the stream table load
//	POST   /v1/squidgrid/matches - Search the observed sequence
//	POST   /v1/squidgrid/priors - Prior arrays
//	GET    /v1/squidgrid/params - Belief parameters
//	PUT    /v1/squidgrid/params - Replace belief or timer parameters
//	GET    /v1/squidgrid/board - Board in play
//	POST   /v1/squidgrid/board/toggle - Cycle a cell
//	PUT    /v1/squidgrid/board/kills - Set the kill count
//	POST   /v1/squidgrid/board/undo - Undo the last mark
//	POST   /v1/squidgrid/board/recommended - Mark the suggested cell
//	DELETE /v1/squidgrid/board - Clear the board
//	POST   /v1/squidgrid/board/practice - Hide a random layout
//	POST   /v1/squidgrid/board/reveal - Reveal a practice cell
//	POST   /v1/squidgrid/probabilities - Engine probabilities
//	POST   /v1/squidgrid/commit - Identify the board and append it
//	GET    /v1/squidgrid/timer - Timer state
//	POST   /v1/squidgrid/timer/split - Split the board timer
//	POST   /v1/squidgrid/timer/rewards - Adjust rewards
//	POST   /v1/squidgrid/timer/invalidate - Toggle invalidation
//	POST   /v1/squidgrid/timer/reset - Reset the timer
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	sg := rg.Group("/squidgrid")
	{
		sg.GET("/health", handlers.HandleHealth)
		sg.GET("/status", handlers.HandleStatus)

		layouts := sg.Group("/layouts")
		{
			layouts.GET("/lookup", handlers.HandleLookup)
			layouts.GET("/random", handlers.HandleRandomLayout)
			layouts.GET("/:index", handlers.HandleLayout)
		}

		hist := sg.Group("/history")
		{
			hist.GET("", handlers.HandleGetHistory)
			hist.DELETE("", handlers.HandleClearHistory)
			hist.POST("/shift", handlers.HandleShiftHistory)
			hist.PUT("/:slot", handlers.HandleSetSlot)
			hist.POST("/:slot/connect", handlers.HandleConnect)
		}

		sg.POST("/tables/load", handlers.HandleLoadTable)
		sg.POST("/matches", handlers.HandleMatches)
		sg.POST("/priors", handlers.HandlePriors)
		sg.GET("/params", handlers.HandleGetParams)
		sg.PUT("/params", handlers.HandleSetParams)

		board := sg.Group("/board")
		{
			board.GET("", handlers.HandleGetBoard)
			board.DELETE("", handlers.HandleResetBoard)
			board.POST("/toggle", handlers.HandleToggle)
			board.PUT("/kills", handlers.HandleSetKills)
			board.POST("/undo", handlers.HandleUndo)
			board.POST("/recommended", handlers.HandleMarkRecommended)
			board.POST("/practice", handlers.HandleStartPractice)
			board.POST("/reveal", handlers.HandleReveal)
		}

		sg.POST("/probabilities", handlers.HandleProbabilities)
		sg.POST("/commit", handlers.HandleCommit)

		timer := sg.Group("/timer")
		{
			timer.GET("", handlers.HandleTimer)
			timer.POST("/split", handlers.HandleSplit)
			timer.POST("/rewards", handlers.HandleRewards)
			timer.POST("/invalidate", handlers.HandleInvalidate)
			timer.POST("/reset", handlers.HandleResetTimer)
		}
	}
}

// NewRouter builds the Gin engine: recovery, tracing, access logging,
// /metrics and the squidgrid routes.
func NewRouter(handlers *Handlers, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("squidgrid"))
	router.Use(accessLog(logger))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}

// accessLog logs one line per request.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}
