// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("squidgrid.engine")

// HTTPEngine is an Engine reached over HTTP with JSON bodies.
//
// The engine answers POST {base}/probabilities with
// {"valid": bool, "probabilities": [65 numbers]} and
// POST {base}/disambiguate with {"valid": bool, "index": n}. A false valid
// flag maps to ErrNoValidAssignment.
//
// Thread Safety: Safe for concurrent use.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPEngine creates a client for the engine at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "engine_client")),
	}
}

type probabilitiesResponse struct {
	Valid         bool      `json:"valid"`
	Probabilities []float64 `json:"probabilities"`
}

type disambiguateResponse struct {
	Valid bool   `json:"valid"`
	Index uint32 `json:"index"`
}

// Probabilities implements Engine.
func (e *HTTPEngine) Probabilities(ctx context.Context, req Request) (Result, error) {
	var resp probabilitiesResponse
	if err := e.post(ctx, "probabilities", req, &resp); err != nil {
		return Result{}, err
	}
	if !resp.Valid {
		return Result{}, ErrNoValidAssignment
	}
	return ParseResult(resp.Probabilities)
}

// Disambiguate implements Engine.
func (e *HTTPEngine) Disambiguate(ctx context.Context, req Request) (uint32, error) {
	var resp disambiguateResponse
	if err := e.post(ctx, "disambiguate", req, &resp); err != nil {
		return 0, err
	}
	if !resp.Valid {
		return 0, ErrNoValidAssignment
	}
	return resp.Index, nil
}

func (e *HTTPEngine) post(ctx context.Context, op string, req Request, out interface{}) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "engine."+op)
	defer span.End()
	span.SetAttributes(
		attribute.Int("engine.hits", len(req.Hits)),
		attribute.Int("engine.misses", len(req.Misses)),
		attribute.Int("engine.observed", len(req.Observed)),
	)

	u, err := url.JoinPath(e.baseURL, op)
	if err != nil {
		return fmt.Errorf("%w: bad engine URL: %v", ErrEngineUnavailable, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal engine request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine unreachable")
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrEngineUnavailable, err)
	}
	e.logger.Debug("engine call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict:
		return ErrNoValidAssignment
	case resp.StatusCode != http.StatusOK:
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("%w: %s: status %d", ErrEngineUnavailable, op, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return nil
}
