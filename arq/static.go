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
	"log/slog"
	"math"
	"math/bits"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StaticTree provides O(log N) range queries and lazy range updates over
// a fixed-size sequence.
//
// Description:
//
//	An array-backed segment tree parametrized over an Algebra. The
//	backing store is padded to the next power of two and fully
//	preallocated at build time: no allocation happens on the query or
//	update path, at the cost of requiring the size upfront.
//
// Invariants:
//   - tree has size 2*paddedSize; parent(i) = i/2, children 2*i, 2*i+1.
//   - tree[i] is the aggregate of node i's span INCLUDING node i's own
//     pending update; pending[i] has not yet been pushed to children.
//   - Leaves never hold pending state; padding leaves hold the identity.
//   - After build, tree[1] aggregates the entire sequence.
//   - version increments on every mutation.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Queries push pending updates down, so
//	they mutate internal state and take the same lock as updates; the
//	internal mutex only keeps accidental concurrent access from
//	corrupting the arrays, it does not make interleaved operations
//	meaningful. Callers sharing a tree must synchronize externally.
type StaticTree[V, U any] struct {
	// Core structure
	tree       []V
	pending    []U
	hasPending []bool
	size       int // number of leaves (original sequence size)
	n          int // padded size (next power of 2)
	alg        Algebra[V, U]

	mu sync.Mutex

	// Metadata
	version     int64
	buildTime   time.Duration
	queryCount  int64
	updateCount int64
}

// StaticTreeStats contains statistics about a StaticTree.
type StaticTreeStats struct {
	Size        int
	PaddedSize  int
	TreeSize    int
	Height      int
	BuildTime   time.Duration
	QueryCount  int64
	UpdateCount int64
	Version     int64
	MemoryBytes int
}

// maxStaticSize bounds the initial sequence so the padded backing arrays
// stay well inside int32 indexing range.
const maxStaticSize = math.MaxInt32 / 4

// NewStaticTree creates a static ARQ tree from an initial sequence.
//
// Description:
//
//	Builds bottom-up in O(N). The tree, pending and hasPending arrays
//	are allocated once; padding positions are filled with the algebra's
//	identity value so left-to-right combine order stays exact for
//	non-commutative algebras.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - values: Initial sequence. Must not be empty.
//   - alg: The operation algebra. Must not be nil.
//
// Outputs:
//   - *StaticTree[V, U]: Constructed tree. Never nil on success.
//   - error: Non-nil if inputs are invalid or the build is cancelled.
//
// Example:
//
//	tree, err := arq.NewStaticTree(ctx, []int64{1, 3, 5, 7}, arq.SumAlgebra{})
//	if err != nil {
//	    return fmt.Errorf("build tree: %w", err)
//	}
//	total := tree.Query(ctx, 0, 3) // 16
func NewStaticTree[V, U any](ctx context.Context, values []V, alg Algebra[V, U]) (*StaticTree[V, U], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if alg == nil {
		return nil, ErrNilAlgebra
	}
	if len(values) == 0 {
		return nil, ErrEmptyValues
	}
	if len(values) > maxStaticSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrValuesTooLarge, len(values), maxStaticSize)
	}

	ctx, span := tracer.Start(ctx, "arq.NewStaticTree",
		trace.WithAttributes(
			attribute.Int("size", len(values)),
		),
	)
	defer span.End()

	start := time.Now()

	size := len(values)
	n := nextPowerOf2(size)
	treeSize := 2 * n

	st := &StaticTree[V, U]{
		tree:       make([]V, treeSize),
		pending:    make([]U, treeSize),
		hasPending: make([]bool, treeSize),
		size:       size,
		n:          n,
		alg:        alg,
		version:    1,
	}

	if err := st.build(ctx, values); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		recordBuildMetrics(ctx, "static", time.Since(start), false)
		return nil, fmt.Errorf("build static tree: %w", err)
	}

	st.buildTime = time.Since(start)
	recordBuildMetrics(ctx, "static", st.buildTime, true)

	span.SetAttributes(
		attribute.Int("padded_size", n),
		attribute.Int("height", bits.Len(uint(n))-1),
		attribute.Int64("build_time_us", st.buildTime.Microseconds()),
	)

	slog.Debug("static ARQ tree constructed",
		slog.Int("size", size),
		slog.Int("padded_size", n),
		slog.Duration("build_time", st.buildTime))

	span.SetStatus(codes.Ok, "tree constructed")
	return st, nil
}

// nextPowerOf2 returns the smallest power of 2 that is >= n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// build fills the leaves and constructs internal nodes bottom-up.
func (st *StaticTree[V, U]) build(ctx context.Context, values []V) error {
	identityV := st.alg.IdentityValue()
	identityU := st.alg.IdentityUpdate()

	for i := range st.tree {
		st.tree[i] = identityV
		st.pending[i] = identityU
	}

	for i := 0; i < st.size; i++ {
		// Check context periodically on large builds
		if i%1000 == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
			default:
			}
		}
		st.tree[st.n+i] = values[i]
	}

	// Padding leaves (size..n) stay at the identity value

	for i := st.n - 1; i > 0; i-- {
		st.tree[i] = st.alg.Combine(st.tree[2*i], st.tree[2*i+1])
	}

	return nil
}

// clampRange clamps [low, high] to [0, size). Returns ok=false when the
// clamped range is empty (inverted or fully out of bounds).
func clampRange(low, high, size int) (cl, ch int, ok bool) {
	if low < 0 {
		low = 0
	}
	if high > size-1 {
		high = size - 1
	}
	if low > high {
		return 0, 0, false
	}
	return low, high, true
}

// Query computes the aggregate over the closed range [low, high].
//
// Description:
//
//	Bounds are clamped to the sequence; an empty or inverted range
//	yields the algebra's identity value, never an error. Pending
//	updates along the descent are pushed down before recursing, so a
//	child never observes a stale ancestor update.
//
// Complexity: O(log N).
func (st *StaticTree[V, U]) Query(ctx context.Context, low, high int) V {
	ctx, span := tracer.Start(ctx, "arq.StaticTree.Query",
		trace.WithAttributes(
			attribute.Int("low", low),
			attribute.Int("high", high),
		),
	)
	defer span.End()

	start := time.Now()

	qL, qR, ok := clampRange(low, high, st.size)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return st.alg.IdentityValue()
	}

	st.mu.Lock()
	result := st.queryRec(1, 0, st.n-1, qL, qR)
	st.queryCount++
	st.mu.Unlock()

	recordQueryMetrics(ctx, "static", time.Since(start))
	span.SetStatus(codes.Ok, "query complete")
	return result
}

// queryRec queries [qL, qR] within node covering [nodeL, nodeR].
func (st *StaticTree[V, U]) queryRec(node, nodeL, nodeR, qL, qR int) V {
	if qR < nodeL || qL > nodeR {
		return st.alg.IdentityValue()
	}

	// Node value already includes its own pending update
	if qL <= nodeL && nodeR <= qR {
		return st.tree[node]
	}

	if st.hasPending[node] {
		st.pushDown(node, nodeL, nodeR)
	}

	mid := (nodeL + nodeR) / 2
	left := st.queryRec(2*node, nodeL, mid, qL, qR)
	right := st.queryRec(2*node+1, mid+1, nodeR, qL, qR)

	return st.alg.Combine(left, right)
}

// Update applies update u to every element in the closed range [low, high].
//
// Description:
//
//	Lazy range update: fully covered nodes record the update as pending
//	for their children instead of descending. Bounds are clamped; an
//	empty or inverted range is a no-op.
//
// Complexity: O(log N).
//
// Thread Safety: NOT safe for concurrent use. Caller must synchronize.
func (st *StaticTree[V, U]) Update(ctx context.Context, low, high int, u U) {
	ctx, span := tracer.Start(ctx, "arq.StaticTree.Update",
		trace.WithAttributes(
			attribute.Int("low", low),
			attribute.Int("high", high),
		),
	)
	defer span.End()

	start := time.Now()

	uL, uR, ok := clampRange(low, high, st.size)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return
	}

	st.mu.Lock()
	st.updateRec(1, 0, st.n-1, uL, uR, u)
	st.updateCount++
	st.version++
	st.mu.Unlock()

	recordUpdateMetrics(ctx, "static", time.Since(start))
	span.SetStatus(codes.Ok, "update complete")
}

// updateRec applies u to [uL, uR] within node covering [nodeL, nodeR].
func (st *StaticTree[V, U]) updateRec(node, nodeL, nodeR, uL, uR int, u U) {
	if uR < nodeL || uL > nodeR {
		return
	}

	if uL <= nodeL && nodeR <= uR {
		span := int64(nodeR - nodeL + 1)
		st.tree[node] = st.alg.Apply(u, st.tree[node], span)
		if nodeL != nodeR {
			st.pending[node] = st.alg.Compose(st.pending[node], u)
			st.hasPending[node] = true
		}
		return
	}

	if st.hasPending[node] {
		st.pushDown(node, nodeL, nodeR)
	}

	mid := (nodeL + nodeR) / 2
	st.updateRec(2*node, nodeL, mid, uL, uR, u)
	st.updateRec(2*node+1, mid+1, nodeR, uL, uR, u)

	st.tree[node] = st.alg.Combine(st.tree[2*node], st.tree[2*node+1])
}

// pushDown propagates a node's pending update into both children and
// resets the node's own pending state to the identity.
func (st *StaticTree[V, U]) pushDown(node, nodeL, nodeR int) {
	if !st.hasPending[node] || nodeL == nodeR {
		return
	}

	u := st.pending[node]
	mid := (nodeL + nodeR) / 2

	leftSpan := int64(mid - nodeL + 1)
	st.tree[2*node] = st.alg.Apply(u, st.tree[2*node], leftSpan)
	if nodeL != mid {
		st.pending[2*node] = st.alg.Compose(st.pending[2*node], u)
		st.hasPending[2*node] = true
	}

	rightSpan := int64(nodeR - mid)
	st.tree[2*node+1] = st.alg.Apply(u, st.tree[2*node+1], rightSpan)
	if mid+1 != nodeR {
		st.pending[2*node+1] = st.alg.Compose(st.pending[2*node+1], u)
		st.hasPending[2*node+1] = true
	}

	st.pending[node] = st.alg.IdentityUpdate()
	st.hasPending[node] = false
}

// Set assigns values[index] = v, replacing the element.
//
// Description:
//
//	Point assignment. Out-of-bounds indices are ignored (clamped-empty
//	semantics). Pending updates on the root-to-leaf path are pushed
//	down first so the new value is not retroactively modified by an
//	older range update.
//
// Complexity: O(log N).
func (st *StaticTree[V, U]) Set(ctx context.Context, index int, v V) {
	_, span := tracer.Start(ctx, "arq.StaticTree.Set",
		trace.WithAttributes(attribute.Int("index", index)),
	)
	defer span.End()

	if index < 0 || index >= st.size {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "out of bounds")
		return
	}

	st.mu.Lock()
	st.setRec(1, 0, st.n-1, index, v)
	st.updateCount++
	st.version++
	st.mu.Unlock()

	span.SetStatus(codes.Ok, "set complete")
}

// setRec assigns the leaf at index and recombines ancestors.
func (st *StaticTree[V, U]) setRec(node, nodeL, nodeR, index int, v V) {
	if st.hasPending[node] {
		st.pushDown(node, nodeL, nodeR)
	}

	if nodeL == nodeR {
		st.tree[node] = v
		return
	}

	mid := (nodeL + nodeR) / 2
	if index <= mid {
		st.setRec(2*node, nodeL, mid, index, v)
	} else {
		st.setRec(2*node+1, mid+1, nodeR, index, v)
	}

	st.tree[node] = st.alg.Combine(st.tree[2*node], st.tree[2*node+1])
}

// Get retrieves the current value at index, accounting for pending
// updates. The second return is false when index is out of bounds.
func (st *StaticTree[V, U]) Get(ctx context.Context, index int) (V, bool) {
	if index < 0 || index >= st.size {
		var zero V
		return zero, false
	}
	return st.Query(ctx, index, index), true
}

// Len returns the logical sequence length.
func (st *StaticTree[V, U]) Len() int {
	return st.size
}

// Validate checks internal invariants.
//
// Description:
//
//	Verifies array sizing and, for every node without pending state
//	below it, that the parent aggregate equals the combine of its
//	children. Nodes with pending descendants are skipped: their
//	children have deliberately not seen the update yet.
//
// Complexity: O(N).
func (st *StaticTree[V, U]) Validate() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	expected := 2 * st.n
	if len(st.tree) != expected {
		return fmt.Errorf("tree size mismatch: got %d, expected %d", len(st.tree), expected)
	}
	if len(st.pending) != expected {
		return fmt.Errorf("pending size mismatch: got %d, expected %d", len(st.pending), expected)
	}
	if len(st.hasPending) != expected {
		return fmt.Errorf("hasPending size mismatch: got %d, expected %d", len(st.hasPending), expected)
	}

	for i := 1; i < st.n; i++ {
		if st.hasPending[i] {
			continue
		}
		combined := st.alg.Combine(st.tree[2*i], st.tree[2*i+1])
		if !reflect.DeepEqual(st.tree[i], combined) {
			return fmt.Errorf("node %d: parent=%v but combine(children)=%v", i, st.tree[i], combined)
		}
	}

	return nil
}

// Stats returns statistics about the tree.
func (st *StaticTree[V, U]) Stats() StaticTreeStats {
	st.mu.Lock()
	defer st.mu.Unlock()

	return StaticTreeStats{
		Size:        st.size,
		PaddedSize:  st.n,
		TreeSize:    len(st.tree),
		Height:      bits.Len(uint(st.n)) - 1,
		BuildTime:   st.buildTime,
		QueryCount:  st.queryCount,
		UpdateCount: st.updateCount,
		Version:     st.version,
		MemoryBytes: st.memoryUsage(),
	}
}

// MemoryUsage estimates backing store memory in bytes.
func (st *StaticTree[V, U]) MemoryUsage() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.memoryUsage()
}

func (st *StaticTree[V, U]) memoryUsage() int {
	var v V
	var u U
	valueBytes := int(reflect.TypeOf(&v).Elem().Size())
	updateBytes := int(reflect.TypeOf(&u).Elem().Size())

	return len(st.tree)*valueBytes + len(st.pending)*updateBytes + len(st.hasPending) + 128
}
