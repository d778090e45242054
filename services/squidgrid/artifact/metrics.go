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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("squidgrid.artifact")
	meter  = otel.Meter("squidgrid.artifact")
)

var (
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	cacheWriteErrors  metric.Int64Counter
	cacheFetchLatency metric.Float64Histogram
	cacheBlobBytes    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"squidgrid_artifact_hits_total",
			metric.WithDescription("Artifact cache reads that found a complete entry"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"squidgrid_artifact_misses_total",
			metric.WithDescription("Artifact cache reads that fell back to computing the artifact"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheWriteErrors, err = meter.Int64Counter(
			"squidgrid_artifact_write_errors_total",
			metric.WithDescription("Artifact cache writes that failed and were ignored"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheFetchLatency, err = meter.Float64Histogram(
			"squidgrid_artifact_fetch_duration_seconds",
			metric.WithDescription("Duration of artifact cache fetches including compute on miss"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheBlobBytes, err = meter.Int64Histogram(
			"squidgrid_artifact_blob_bytes",
			metric.WithDescription("Size of artifacts returned by the cache"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFetch(ctx context.Context, key string, hit bool, size int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("key", key))
	if hit {
		cacheHits.Add(ctx, 1, attrs)
	} else {
		cacheMisses.Add(ctx, 1, attrs)
	}
	cacheFetchLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("key", key), attribute.Bool("hit", hit)))
	cacheBlobBytes.Record(ctx, int64(size), attrs)
}

func recordWriteError(ctx context.Context, key string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func startSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "artifact.Cache."+operation,
		trace.WithAttributes(
			attribute.String("artifact.operation", operation),
			attribute.String("artifact.key", key),
		),
	)
}
