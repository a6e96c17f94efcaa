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
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistentTree_InvalidInputs(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		_, err := NewPersistentTree[int64, int64](nil, 100, SumAlgebra{})
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("nil algebra", func(t *testing.T) {
		_, err := NewPersistentTree[int64, int64](context.Background(), 100, nil)
		assert.ErrorIs(t, err, ErrNilAlgebra)
	})

	t.Run("non-positive domain", func(t *testing.T) {
		_, err := NewPersistentTree[int64, int64](context.Background(), 0, SumAlgebra{})
		assert.ErrorIs(t, err, ErrInvalidDomain)
	})

	t.Run("domain above maximum", func(t *testing.T) {
		_, err := NewPersistentTree[int64, int64](context.Background(), math.MaxInt64, SumAlgebra{})
		assert.ErrorIs(t, err, ErrInvalidDomain)
	})
}

func TestPersistentTree_OldVersionUnaffectedByUpdate(t *testing.T) {
	vals := []int64{1, 3, 5, 7}
	v1, err := BuildPersistentTree[int64, int64](context.Background(), vals, SumAlgebra{})
	require.NoError(t, err)

	v2 := v1.Update(context.Background(), 1, 2, 10)

	// The new version reflects the update
	assert.Equal(t, int64(36), v2.Query(context.Background(), 0, 3))
	assert.Equal(t, int64(14), v2.Query(context.Background(), 0, 1))
	assert.Equal(t, int64(22), v2.Query(context.Background(), 2, 3))

	// The old version is untouched
	assert.Equal(t, int64(16), v1.Query(context.Background(), 0, 3))
	assert.Equal(t, int64(4), v1.Query(context.Background(), 0, 1))
	assert.Equal(t, int64(12), v1.Query(context.Background(), 2, 3))

	assert.Equal(t, int64(1), v1.Version())
	assert.Equal(t, int64(2), v2.Version())
}

func TestPersistentTree_SetIsolation(t *testing.T) {
	v1, err := BuildPersistentTree[int64, int64](context.Background(), []int64{2, 4, 6, 8, 10}, SumAlgebra{})
	require.NoError(t, err)

	v2 := v1.Set(context.Background(), 2, 100)

	got1, ok := v1.Get(context.Background(), 2)
	require.True(t, ok)
	assert.Equal(t, int64(6), got1)

	got2, ok := v2.Get(context.Background(), 2)
	require.True(t, ok)
	assert.Equal(t, int64(100), got2)

	assert.Equal(t, int64(30), v1.Query(context.Background(), 0, 4))
	assert.Equal(t, int64(124), v2.Query(context.Background(), 0, 4))
}

func TestPersistentTree_VersionChain(t *testing.T) {
	v1, err := NewPersistentTree[int64, int64](context.Background(), 16, SumAlgebra{})
	require.NoError(t, err)

	versions := []*PersistentTree[int64, int64]{v1}
	for i := int64(0); i < 8; i++ {
		prev := versions[len(versions)-1]
		versions = append(versions, prev.Update(context.Background(), i, i+7, 1))
	}

	// Version k has had k updates applied; each added 1 to 8 positions
	for k, v := range versions {
		assert.Equal(t, int64(8*k), v.Query(context.Background(), 0, 15), "version %d", k+1)
		assert.Equal(t, int64(k+1), v.Version())
	}
}

func TestPersistentTree_EmptyRangeReturnsReceiver(t *testing.T) {
	v1, err := NewPersistentTree[int64, int64](context.Background(), 100, SumAlgebra{})
	require.NoError(t, err)

	same := v1.Update(context.Background(), 80, 20, 5)
	assert.Same(t, v1, same)

	same = v1.Update(context.Background(), 200, 300, 5)
	assert.Same(t, v1, same)

	same = v1.Set(context.Background(), -1, 9)
	assert.Same(t, v1, same)
}

func TestPersistentTree_QueryDoesNotMaterialize(t *testing.T) {
	v1, err := NewPersistentTree[int64, int64](context.Background(), 1_000_000_000, SumAlgebra{})
	require.NoError(t, err)

	v2 := v1.Update(context.Background(), 0, 999_999_999, 3)
	before := v2.NodeCount()

	for i := 0; i < 50; i++ {
		v2.Query(context.Background(), int64(i)*1000, int64(i)*500_000+999)
	}
	assert.Equal(t, before, v2.NodeCount())
}

func TestPersistentTree_SparseUpdateCost(t *testing.T) {
	// Each point write over a 2^40 domain clones one root-to-leaf path.
	const domain = int64(1) << 40
	v, err := NewPersistentTree[int64, int64](context.Background(), domain, SumAlgebra{})
	require.NoError(t, err)

	before := v.NodeCount()
	v = v.Set(context.Background(), domain/2, 9)
	perPath := v.NodeCount() - before
	assert.LessOrEqual(t, perPath, int64(50))

	for i := int64(1); i <= 10; i++ {
		v = v.Set(context.Background(), i*1_000_003, i)
	}
	assert.LessOrEqual(t, v.NodeCount(), before+11*50)
	assert.Equal(t, int64(9+55), v.Query(context.Background(), 0, domain-1))
}

func TestPersistentTree_PendingResolvedAcrossVersions(t *testing.T) {
	// A range update leaves a pending on a shared internal node; a later
	// partial update in a derived version must push it down by cloning,
	// leaving the older version's pending intact.
	v1, err := BuildPersistentTree[int64, int64](context.Background(), []int64{1, 1, 1, 1, 1, 1, 1, 1}, SumAlgebra{})
	require.NoError(t, err)

	v2 := v1.Update(context.Background(), 0, 7, 10) // pending parked at the root
	v3 := v2.Update(context.Background(), 2, 5, 100)

	assert.Equal(t, int64(8), v1.Query(context.Background(), 0, 7))
	assert.Equal(t, int64(88), v2.Query(context.Background(), 0, 7))
	assert.Equal(t, int64(488), v3.Query(context.Background(), 0, 7))

	// Sub-ranges through the cloned push-down path
	assert.Equal(t, int64(22), v2.Query(context.Background(), 2, 3))
	assert.Equal(t, int64(222), v3.Query(context.Background(), 2, 3))
	assert.Equal(t, int64(11), v3.Query(context.Background(), 0, 0))
}

func TestPersistentTree_MinAlgebraVersions(t *testing.T) {
	v1, err := BuildPersistentTree[int64, int64](context.Background(), []int64{9, 4, 7, 2, 8}, MinAlgebra{})
	require.NoError(t, err)

	v2 := v1.Set(context.Background(), 3, 100)

	assert.Equal(t, int64(2), v1.Query(context.Background(), 0, 4))
	assert.Equal(t, int64(4), v2.Query(context.Background(), 0, 4))
	assert.Equal(t, int64(7), v2.Query(context.Background(), 2, 4))
}

func TestPersistentTree_NonCommutativeCombineOrder(t *testing.T) {
	vals := []string{"a", "b", "c", "d", "e", "f", "g"}
	v1, err := BuildPersistentTree[string, struct{}](context.Background(), vals, concatAlgebra())
	require.NoError(t, err)

	assert.Equal(t, "abcdefg", v1.Query(context.Background(), 0, 6))
	assert.Equal(t, "cde", v1.Query(context.Background(), 2, 4))

	v2 := v1.Set(context.Background(), 3, "X")
	assert.Equal(t, "abcdefg", v1.Query(context.Background(), 0, 6))
	assert.Equal(t, "abcXefg", v2.Query(context.Background(), 0, 6))
	assert.Equal(t, "cXe", v2.Query(context.Background(), 2, 4))

	// Pending state parked on shared ancestors flows through the query
	// accumulator; merge order must survive that path too.
	v3 := v2.Update(context.Background(), 0, 6, struct{}{})
	assert.Equal(t, "cXe", v3.Query(context.Background(), 2, 4))
	assert.Equal(t, "abcXefg", v3.Query(context.Background(), 0, 6))

	// Sparse versions: absent subtrees read as the empty string, so the
	// aggregate is the written elements in position order.
	base, err := NewPersistentTree[string, struct{}](context.Background(), 64, concatAlgebra())
	require.NoError(t, err)
	w := base.Set(context.Background(), 40, "y").Set(context.Background(), 8, "x")
	assert.Equal(t, "xy", w.Query(context.Background(), 0, 63))
	assert.Equal(t, "", base.Query(context.Background(), 0, 63))
}

func TestPersistentTree_RandomizedAgainstSnapshots(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const size = 64
	const numVersions = 40

	base := make([]int64, size)
	v, err := NewPersistentTree[int64, int64](context.Background(), size, SumAlgebra{})
	require.NoError(t, err)

	versions := []*PersistentTree[int64, int64]{v}
	snapshots := [][]int64{append([]int64(nil), base...)}

	for k := 0; k < numVersions; k++ {
		low := int64(rng.Intn(size))
		high := low + int64(rng.Intn(size-int(low)))
		cur := versions[len(versions)-1]

		if rng.Intn(2) == 0 {
			delta := rng.Int63n(20) - 10
			versions = append(versions, cur.Update(context.Background(), low, high, delta))
			for i := low; i <= high; i++ {
				base[i] += delta
			}
		} else {
			val := rng.Int63n(200) - 100
			versions = append(versions, cur.Set(context.Background(), low, val))
			base[low] = val
		}
		snapshots = append(snapshots, append([]int64(nil), base...))
	}

	// Every retained version must still answer from its own snapshot
	for k, ver := range versions {
		snap := snapshots[k]
		for trial := 0; trial < 20; trial++ {
			low := int64(rng.Intn(size))
			high := low + int64(rng.Intn(size-int(low)))
			var want int64
			for i := low; i <= high; i++ {
				want += snap[i]
			}
			assert.Equal(t, want, ver.Query(context.Background(), low, high),
				"version %d range [%d,%d]", k+1, low, high)
		}
	}
}

func TestPersistentTree_Stats(t *testing.T) {
	v1, err := BuildPersistentTree[int64, int64](context.Background(), []int64{1, 2, 3, 4}, SumAlgebra{})
	require.NoError(t, err)
	v2 := v1.Update(context.Background(), 0, 3, 1)

	s1, s2 := v1.Stats(), v2.Stats()
	assert.Equal(t, int64(4), s2.Domain)
	assert.Equal(t, int64(2), s2.Version)
	assert.Equal(t, int64(2), s2.Versions)
	// Family stats are shared between versions
	assert.Equal(t, s1.FamilyNodes, s2.FamilyNodes)
	assert.Greater(t, s2.FamilyNodes, int64(0))
}

// Benchmarks

func BenchmarkPersistentTree_Update(b *testing.B) {
	v, _ := NewPersistentTree[int64, int64](context.Background(), 1_000_000_000, SumAlgebra{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		low := rng.Int63n(999_000_000)
		v = v.Update(ctx, low, low+1000, 1)
	}
}

func BenchmarkPersistentTree_Query(b *testing.B) {
	v, _ := NewPersistentTree[int64, int64](context.Background(), 1_000_000_000, SumAlgebra{})
	ctx := context.Background()
	for i := int64(0); i < 100; i++ {
		v = v.Update(ctx, i*9_000_000, i*9_000_000+100_000, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Query(ctx, 0, 999_999_999)
	}
}
