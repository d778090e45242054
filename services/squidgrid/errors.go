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
	"errors"
	"net/http"

	"github.com/AleutianAI/squidgrid/services/squidgrid/engine"
	"github.com/AleutianAI/squidgrid/services/squidgrid/history"
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeTableNotReady     = "TABLE_NOT_READY"
	CodeNoValidAssignment = "NO_VALID_ASSIGNMENT"
	CodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	CodeLoadFailed        = "LOAD_FAILED"
	CodeVariantConflict   = "VARIANT_CONFLICT"
	CodeNotFound          = "NOT_FOUND"
	CodeNotPracticing     = "NOT_PRACTICING"
	CodeBoardChanged      = "BOARD_CHANGED"
	CodeNoRecommendation  = "NO_RECOMMENDATION"
	CodeInternal          = "INTERNAL_ERROR"
)

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, layout.ErrInvalidEncoding),
		errors.Is(err, history.ErrSlotOutOfRange),
		errors.Is(err, streamtable.ErrUnknownVariant),
		errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, session.ErrTableNotReady),
		errors.Is(err, session.ErrStreamTableNotReady):
		return http.StatusServiceUnavailable, CodeTableNotReady
	case errors.Is(err, engine.ErrNoValidAssignment):
		return http.StatusConflict, CodeNoValidAssignment
	case errors.Is(err, engine.ErrEngineUnavailable),
		errors.Is(err, engine.ErrMalformedResult),
		errors.Is(err, session.ErrNoEngine):
		return http.StatusServiceUnavailable, CodeEngineUnavailable
	case errors.Is(err, streamtable.ErrVariantConflict):
		return http.StatusConflict, CodeVariantConflict
	case errors.Is(err, streamtable.ErrFetchFailed),
		errors.Is(err, streamtable.ErrMisalignedTable):
		return http.StatusBadGateway, CodeLoadFailed
	case errors.Is(err, session.ErrUnknownIndex),
		errors.Is(err, history.ErrUnknownIndex):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, session.ErrNotPracticing):
		return http.StatusConflict, CodeNotPracticing
	case errors.Is(err, session.ErrBoardChanged):
		return http.StatusConflict, CodeBoardChanged
	case errors.Is(err, session.ErrNoRecommendation):
		return http.StatusConflict, CodeNoRecommendation
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
