// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Cache is a read-through cache over a Store.
//
// Thread Safety: Safe for concurrent use if the Store is. Concurrent misses
// on one key each compute; callers that need a single computation
// deduplicate above the cache.
type Cache struct {
	store  Store
	logger *slog.Logger
}

// NewCache wraps store. A nil logger uses slog.Default.
func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		logger: logger.With(slog.String("component", "artifact_cache")),
	}
}

// Fetch returns the artifact for key, computing and storing it on a miss.
//
// Description:
//
//	Reads key from the store. A hit is returned as-is. Any miss or read
//	failure runs compute; its result is written back best-effort (a failed
//	write is logged, not returned) and then returned.
//
// Inputs:
//
//	ctx - Context for store access and compute.
//	key - Cache key.
//	compute - Produces the artifact on a miss.
//
// Outputs:
//
//	[]byte - The artifact.
//	error - Non-nil only when compute fails.
func (c *Cache) Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	ctx, span := startSpan(ctx, "Fetch", key)
	defer span.End()
	start := time.Now()

	blob, err := c.store.Read(ctx, key)
	if err == nil {
		span.SetAttributes(attribute.Bool("artifact.hit", true))
		recordFetch(ctx, key, true, len(blob), time.Since(start))
		return blob, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.logger.Warn("artifact read failed, treating as miss",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	span.SetAttributes(attribute.Bool("artifact.hit", false))

	blob, err = compute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	recordFetch(ctx, key, false, len(blob), time.Since(start))

	c.write(ctx, key, blob)
	return blob, nil
}

// Put overwrites the entry for key. Used when a cached artifact turns out
// to be undecodable.
func (c *Cache) Put(ctx context.Context, key string, blob []byte) error {
	ctx, span := startSpan(ctx, "Put", key)
	defer span.End()

	if err := c.store.Write(ctx, key, blob); err != nil {
		recordWriteError(ctx, key)
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Cache) write(ctx context.Context, key string, blob []byte) {
	if err := c.store.Write(ctx, key, blob); err != nil {
		recordWriteError(ctx, key)
		c.logger.Warn("artifact write failed",
			slog.String("key", key),
			slog.Int("bytes", len(blob)),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("artifact cached", slog.String("key", key), slog.Int("bytes", len(blob)))
}
