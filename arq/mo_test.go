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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sumWindow aggregates the values inside the sliding window.
type sumWindow struct {
	values []int64
	sum    int64
}

func (w *sumWindow) Add(pos int64)    { w.sum += w.values[pos] }
func (w *sumWindow) Remove(pos int64) { w.sum -= w.values[pos] }
func (w *sumWindow) Answer() int64    { return w.sum }

// distinctWindow counts distinct values inside the sliding window.
type distinctWindow struct {
	values   []int64
	freq     map[int64]int64
	distinct int64
}

func newDistinctWindow(values []int64) *distinctWindow {
	return &distinctWindow{values: values, freq: make(map[int64]int64)}
}

func (w *distinctWindow) Add(pos int64) {
	v := w.values[pos]
	if w.freq[v] == 0 {
		w.distinct++
	}
	w.freq[v]++
}

func (w *distinctWindow) Remove(pos int64) {
	v := w.values[pos]
	w.freq[v]--
	if w.freq[v] == 0 {
		w.distinct--
	}
}

func (w *distinctWindow) Answer() int64 { return w.distinct }

func TestSolveMo_InvalidInputs(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		_, err := SolveMo[int64](nil, 10, nil, &sumWindow{})
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("nil accumulator", func(t *testing.T) {
		_, err := SolveMo[int64](context.Background(), 10, nil, nil)
		assert.ErrorIs(t, err, ErrNilAccumulator)
	})

	t.Run("non-positive length", func(t *testing.T) {
		_, err := SolveMo[int64](context.Background(), 0, nil, &sumWindow{})
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}

func TestSolveMo_EmptyBatch(t *testing.T) {
	results, err := SolveMo[int64](context.Background(), 10, nil, &sumWindow{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSolveMo_SumMatchesDirect(t *testing.T) {
	values := []int64{4, 2, 7, 1, 9, 3, 8, 5, 6, 0}
	queries := []MoQuery{
		{Low: 0, High: 9, ID: 1},
		{Low: 2, High: 5, ID: 2},
		{Low: 7, High: 7, ID: 3},
		{Low: 0, High: 4, ID: 4},
	}

	results, err := SolveMo[int64](context.Background(), 10, queries, &sumWindow{values: values})
	require.NoError(t, err)

	assert.Equal(t, int64(45), results[1])
	assert.Equal(t, int64(20), results[2])
	assert.Equal(t, int64(5), results[3])
	assert.Equal(t, int64(23), results[4])
}

func TestSolveMo_ClampedAndEmptyRanges(t *testing.T) {
	values := []int64{1, 2, 3, 4, 5}
	queries := []MoQuery{
		{Low: -10, High: 2, ID: 1},  // clamps to [0,2]
		{Low: 3, High: 100, ID: 2},  // clamps to [3,4]
		{Low: 4, High: 1, ID: 3},    // inverted: empty window
		{Low: 50, High: 90, ID: 4},  // fully out of bounds: empty window
	}

	results, err := SolveMo[int64](context.Background(), 5, queries, &sumWindow{values: values})
	require.NoError(t, err)

	assert.Equal(t, int64(6), results[1])
	assert.Equal(t, int64(9), results[2])
	assert.Equal(t, int64(0), results[3])
	assert.Equal(t, int64(0), results[4])
}

func TestSolveMo_DistinctCount(t *testing.T) {
	values := []int64{1, 2, 1, 3, 2, 2, 4, 1}
	queries := []MoQuery{
		{Low: 0, High: 7, ID: 1},
		{Low: 0, High: 2, ID: 2},
		{Low: 3, High: 5, ID: 3},
		{Low: 4, High: 4, ID: 4},
	}

	results, err := SolveMo[int64](context.Background(), 8, queries, newDistinctWindow(values))
	require.NoError(t, err)

	assert.Equal(t, int64(4), results[1])
	assert.Equal(t, int64(2), results[2])
	assert.Equal(t, int64(2), results[3])
	assert.Equal(t, int64(1), results[4])
}

func TestSolveMo_DuplicateIDsKeepLastSortedAnswer(t *testing.T) {
	values := []int64{1, 2, 3, 4}

	// With block size 1, [0,1] always sorts before [2,3], so a shared ID
	// keeps the [2,3] answer regardless of the order queries arrive in.
	batches := [][]MoQuery{
		{{Low: 0, High: 1, ID: 9}, {Low: 2, High: 3, ID: 9}},
		{{Low: 2, High: 3, ID: 9}, {Low: 0, High: 1, ID: 9}},
	}

	for _, queries := range batches {
		results, err := SolveMo[int64](context.Background(), 4, queries,
			&sumWindow{values: values}, WithBlockSize(1))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(7), results[9])
	}
}

func TestSolveMo_CrossCheckAgainstStaticTree(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	const size = 300
	const numQueries = 500

	values := make([]int64, size)
	for i := range values {
		values[i] = rng.Int63n(1000) - 500
	}

	tree, err := NewStaticTree[int64, int64](context.Background(), values, SumAlgebra{})
	require.NoError(t, err)

	queries := make([]MoQuery, numQueries)
	for i := range queries {
		low := int64(rng.Intn(size))
		high := low + int64(rng.Intn(size-int(low)))
		queries[i] = MoQuery{Low: low, High: high, ID: int64(i)}
	}

	results, err := SolveMo[int64](context.Background(), size, queries, &sumWindow{values: values})
	require.NoError(t, err)
	require.Len(t, results, numQueries)

	for _, q := range queries {
		want := tree.Query(context.Background(), int(q.Low), int(q.High))
		assert.Equal(t, want, results[q.ID], "query %d range [%d,%d]", q.ID, q.Low, q.High)
	}
}

func TestSolveMo_ExplicitBlockSize(t *testing.T) {
	values := []int64{5, 5, 5, 5, 5, 5, 5, 5}
	queries := []MoQuery{
		{Low: 0, High: 7, ID: 1},
		{Low: 2, High: 3, ID: 2},
	}

	for _, bs := range []int64{1, 2, 4, 100} {
		results, err := SolveMo[int64](context.Background(), 8, queries,
			&sumWindow{values: values}, WithBlockSize(bs))
		require.NoError(t, err)
		assert.Equal(t, int64(40), results[1], "block size %d", bs)
		assert.Equal(t, int64(10), results[2], "block size %d", bs)
	}
}

func TestSolveMo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	values := make([]int64, 100)
	queries := []MoQuery{{Low: 0, High: 99, ID: 1}}

	_, err := SolveMo[int64](ctx, 100, queries, &sumWindow{values: values})
	assert.ErrorIs(t, err, ErrSolveCancelled)
}

// Benchmarks

func BenchmarkSolveMo_DistinctCount(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	const size = 10_000
	const numQueries = 1_000

	values := make([]int64, size)
	for i := range values {
		values[i] = rng.Int63n(100)
	}
	queries := make([]MoQuery, numQueries)
	for i := range queries {
		low := int64(rng.Intn(size))
		high := low + int64(rng.Intn(size-int(low)))
		queries[i] = MoQuery{Low: low, High: high, ID: int64(i)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := SolveMo[int64](context.Background(), size, queries, newDistinctWindow(values))
		if err != nil {
			b.Fatal(err)
		}
	}
}
