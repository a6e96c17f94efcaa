// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arq

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for ARQ operations.
var (
	tracer = otel.Tracer("aleutian.arq")
	meter  = otel.Meter("aleutian.arq")
)

// Metrics for tree operations.
var (
	buildLatency      metric.Float64Histogram
	buildTotal        metric.Int64Counter
	queryLatency      metric.Float64Histogram
	updateLatency     metric.Float64Histogram
	nodesMaterialized metric.Int64Counter
	moBatchSize       metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"arq_build_duration_seconds",
			metric.WithDescription("Duration of tree build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"arq_build_total",
			metric.WithDescription("Total number of tree build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"arq_query_duration_seconds",
			metric.WithDescription("Duration of range query operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		updateLatency, err = meter.Float64Histogram(
			"arq_update_duration_seconds",
			metric.WithDescription("Duration of range update operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesMaterialized, err = meter.Int64Counter(
			"arq_nodes_materialized_total",
			metric.WithDescription("Sparse tree nodes created on demand"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		moBatchSize, err = meter.Int64Histogram(
			"arq_mo_batch_queries",
			metric.WithDescription("Number of queries per Mo batch"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a tree build.
func recordBuildMetrics(ctx context.Context, variant string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.Bool("success", success),
	)

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}

// recordQueryMetrics records metrics for a range query.
func recordQueryMetrics(ctx context.Context, variant string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("variant", variant)),
	)
}

// recordUpdateMetrics records metrics for a range update.
func recordUpdateMetrics(ctx context.Context, variant string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	updateLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("variant", variant)),
	)
}

// recordNodesMaterialized records sparse node creation.
func recordNodesMaterialized(ctx context.Context, variant string, n int64) {
	if err := initMetrics(); err != nil || n == 0 {
		return
	}

	nodesMaterialized.Add(ctx, n,
		metric.WithAttributes(attribute.String("variant", variant)),
	)
}

// recordMoBatchMetrics records a Mo's algorithm batch solve.
func recordMoBatchMetrics(ctx context.Context, queries int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	moBatchSize.Record(ctx, int64(queries))
	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("variant", "mo")),
	)
}
