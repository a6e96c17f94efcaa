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
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MoQuery is one range in an offline batch: a closed [Low, High] bound
// pair plus an opaque identifier the answer is keyed under.
type MoQuery struct {
	Low  int64
	High int64
	ID   int64
}

// MoAccumulator is the caller-supplied incremental algebra for Mo's
// algorithm: a sliding window over positions [curLow, curHigh] that can
// grow or shrink by one position at a time.
//
// Add and Remove must be exact inverses; Answer reports the aggregate
// of the current window (the empty window before any Add is valid).
type MoAccumulator[R any] interface {
	Add(pos int64)
	Remove(pos int64)
	Answer() R
}

// MoOption configures SolveMo.
type MoOption func(*moConfig)

type moConfig struct {
	blockSize int64
}

// WithBlockSize overrides the decomposition block size. Values < 1 are
// ignored and the default ceil(n/sqrt(q)) is used.
func WithBlockSize(b int64) MoOption {
	return func(c *moConfig) {
		c.blockSize = b
	}
}

// SolveMo answers an offline batch of range queries with no updates.
//
// Description:
//
//	Mo's algorithm: queries are sorted by (Low/blockSize, High), with
//	the High order reversed inside odd blocks to avoid pointer
//	thrashing between adjacent blocks. Two cursors then sweep the
//	sequence, calling Add/Remove once per single-position move, and
//	record Answer() when the window matches a query. Total pointer
//	movement is O((n+q)·sqrt(n)) regardless of input query order.
//
//	Query bounds are clamped to [0, n); an empty or inverted range is
//	answered over the empty window. Duplicate IDs keep the answer of
//	the last query in sorted order.
//
// Inputs:
//   - ctx: Context; cancellation is checked between queries.
//   - n: Sequence length. Must be positive.
//   - queries: The batch. May be empty.
//   - acc: Incremental window algebra. Must not be nil and must start
//     in the empty-window state.
//   - opts: Optional configuration (WithBlockSize).
//
// Outputs:
//   - map[int64]R: Answers keyed by query ID.
//   - error: Non-nil on invalid inputs or cancellation.
//
// Example:
//
//	freq := newDistinctCounter(values)
//	answers, err := arq.SolveMo(ctx, int64(len(values)), queries, freq)
func SolveMo[R any](ctx context.Context, n int64, queries []MoQuery, acc MoAccumulator[R], opts ...MoOption) (map[int64]R, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if acc == nil {
		return nil, ErrNilAccumulator
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}

	ctx, span := tracer.Start(ctx, "arq.SolveMo",
		trace.WithAttributes(
			attribute.Int64("n", n),
			attribute.Int("queries", len(queries)),
		),
	)
	defer span.End()

	start := time.Now()

	results := make(map[int64]R, len(queries))
	if len(queries) == 0 {
		span.SetStatus(codes.Ok, "empty batch")
		return results, nil
	}

	cfg := moConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	blockSize := cfg.blockSize
	if blockSize < 1 {
		blockSize = int64(math.Ceil(float64(n) / math.Sqrt(float64(len(queries)))))
		if blockSize < 1 {
			blockSize = 1
		}
	}
	span.SetAttributes(attribute.Int64("block_size", blockSize))

	// Clamp into a private copy; empty ranges are flagged with High < Low.
	sorted := make([]MoQuery, len(queries))
	for i, q := range queries {
		cl, ch, ok := clampRange64(q.Low, q.High, n)
		if !ok {
			sorted[i] = MoQuery{Low: 0, High: -1, ID: q.ID}
			continue
		}
		sorted[i] = MoQuery{Low: cl, High: ch, ID: q.ID}
	}

	sort.Slice(sorted, func(i, j int) bool {
		bi, bj := sorted[i].Low/blockSize, sorted[j].Low/blockSize
		if bi != bj {
			return bi < bj
		}
		// Alternate High direction between adjacent blocks
		if bi%2 == 1 {
			return sorted[i].High > sorted[j].High
		}
		return sorted[i].High < sorted[j].High
	})

	var curL, curR int64 = 0, -1
	var moves int64

	for _, q := range sorted {
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("%w: %v", ErrSolveCancelled, ctx.Err())
		default:
		}

		targetL, targetR := q.Low, q.High
		if q.High < q.Low {
			// Empty window: shrink in place instead of seeking.
			targetL, targetR = curL, curL-1
		}

		// Grow before shrinking so the window never inverts.
		for curL > targetL {
			curL--
			acc.Add(curL)
			moves++
		}
		for curR < targetR {
			curR++
			acc.Add(curR)
			moves++
		}
		for curL < targetL {
			acc.Remove(curL)
			curL++
			moves++
		}
		for curR > targetR {
			acc.Remove(curR)
			curR--
			moves++
		}

		results[q.ID] = acc.Answer()
	}

	recordMoBatchMetrics(ctx, len(queries), time.Since(start))
	span.SetAttributes(attribute.Int64("pointer_moves", moves))
	span.SetStatus(codes.Ok, "batch solved")
	return results, nil
}
