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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// node is a sparse tree node shared by DynamicTree and PersistentTree.
//
// A nil child pointer stands for an implicit subtree whose every leaf
// holds the algebra's identity value; its aggregate is therefore the
// identity and it costs no memory until a descent first touches it.
type node[V, U any] struct {
	left, right *node[V, U]
	value       V
	pending     U
	hasPending  bool
}

// maxDynamicDomain bounds sparse index domains. Spans are measured in
// int64; one bit of headroom keeps midpoint arithmetic overflow-free.
const maxDynamicDomain = math.MaxInt64 / 2

// DynamicTree provides range queries and lazy range updates over a
// sparse index domain.
//
// Description:
//
//	A pointer-based ARQ tree with on-demand node materialization:
//	subtrees outside every touched range are never allocated, so the
//	index domain may be far larger than the number of live elements
//	(e.g. domain 10^9 with a few thousand updates). Semantics are
//	identical to StaticTree; only the storage strategy differs.
//
// Invariants:
//   - A node's value is the aggregate of its span including its own
//     pending update; pending has not been pushed to its children.
//   - A nil child is an implicit identity subtree.
//   - Leaves never hold pending state.
//
// Thread Safety: NOT safe for concurrent use. Single-owner structure;
// callers sharing a tree must synchronize externally.
type DynamicTree[V, U any] struct {
	alg    Algebra[V, U]
	root   *node[V, U]
	domain int64 // valid indices are [0, domain)

	nodeCount   int64
	version     int64
	buildTime   time.Duration
	queryCount  int64
	updateCount int64
}

// DynamicTreeStats contains statistics about a DynamicTree.
type DynamicTreeStats struct {
	Domain      int64
	NodeCount   int64
	Version     int64
	BuildTime   time.Duration
	QueryCount  int64
	UpdateCount int64
}

// NewDynamicTree creates an empty sparse tree over indices [0, domain).
//
// Description:
//
//	Allocates no nodes: every position initially holds the algebra's
//	identity value. Nodes are materialized as updates and queries
//	descend into their spans.
//
// Inputs:
//   - ctx: Context. Must not be nil.
//   - domain: Exclusive upper index bound. Must be in (0, 2^62].
//   - alg: The operation algebra. Must not be nil.
//
// Example:
//
//	tree, err := arq.NewDynamicTree(ctx, 1_000_000_000, arq.SumAlgebra{})
func NewDynamicTree[V, U any](ctx context.Context, domain int64, alg Algebra[V, U]) (*DynamicTree[V, U], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if alg == nil {
		return nil, ErrNilAlgebra
	}
	if domain <= 0 || domain > maxDynamicDomain {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDomain, domain)
	}

	return &DynamicTree[V, U]{
		alg:     alg,
		domain:  domain,
		version: 1,
	}, nil
}

// BuildDynamicTree creates a dense dynamic tree seeded from a sequence.
//
// Description:
//
//	The domain equals len(values) and every leaf is materialized, so
//	this is only preferable to NewStaticTree when the tree will later
//	be handed to code expecting the dynamic variant.
func BuildDynamicTree[V, U any](ctx context.Context, values []V, alg Algebra[V, U]) (*DynamicTree[V, U], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if alg == nil {
		return nil, ErrNilAlgebra
	}
	if len(values) == 0 {
		return nil, ErrEmptyValues
	}

	ctx, span := tracer.Start(ctx, "arq.BuildDynamicTree",
		trace.WithAttributes(attribute.Int("size", len(values))),
	)
	defer span.End()

	start := time.Now()

	dt := &DynamicTree[V, U]{
		alg:     alg,
		domain:  int64(len(values)),
		version: 1,
	}

	root, err := buildDense(ctx, values, 0, dt.domain-1, alg, &dt.nodeCount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		recordBuildMetrics(ctx, "dynamic", time.Since(start), false)
		return nil, fmt.Errorf("build dynamic tree: %w", err)
	}
	dt.root = root
	dt.buildTime = time.Since(start)

	recordBuildMetrics(ctx, "dynamic", dt.buildTime, true)
	recordNodesMaterialized(ctx, "dynamic", dt.nodeCount)

	slog.Debug("dynamic ARQ tree constructed",
		slog.Int("size", len(values)),
		slog.Int64("nodes", dt.nodeCount),
		slog.Duration("build_time", dt.buildTime))

	span.SetAttributes(attribute.Int64("nodes", dt.nodeCount))
	span.SetStatus(codes.Ok, "tree constructed")
	return dt, nil
}

// buildDense recursively materializes a subtree for values[nodeL..nodeR].
func buildDense[V, U any](ctx context.Context, values []V, nodeL, nodeR int64, alg Algebra[V, U], count *int64) (*node[V, U], error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
	default:
	}

	nd := &node[V, U]{pending: alg.IdentityUpdate()}
	*count++

	if nodeL == nodeR {
		nd.value = values[nodeL]
		return nd, nil
	}

	mid := nodeL + (nodeR-nodeL)/2
	left, err := buildDense(ctx, values, nodeL, mid, alg, count)
	if err != nil {
		return nil, err
	}
	right, err := buildDense(ctx, values, mid+1, nodeR, alg, count)
	if err != nil {
		return nil, err
	}

	nd.left, nd.right = left, right
	nd.value = alg.Combine(left.value, right.value)
	return nd, nil
}

// clampRange64 clamps [low, high] to [0, domain). ok=false when empty.
func clampRange64(low, high, domain int64) (cl, ch int64, ok bool) {
	if low < 0 {
		low = 0
	}
	if high > domain-1 {
		high = domain - 1
	}
	if low > high {
		return 0, 0, false
	}
	return low, high, true
}

// materialize returns an existing child or creates it as an identity
// aggregate over its span.
func (dt *DynamicTree[V, U]) materialize(child **node[V, U]) *node[V, U] {
	if *child == nil {
		*child = &node[V, U]{
			value:   dt.alg.IdentityValue(),
			pending: dt.alg.IdentityUpdate(),
		}
		dt.nodeCount++
	}
	return *child
}

// pushDown propagates nd's pending update into both children,
// materializing them, and resets nd's pending state.
func (dt *DynamicTree[V, U]) pushDown(nd *node[V, U], nodeL, nodeR int64) {
	if !nd.hasPending || nodeL == nodeR {
		return
	}

	u := nd.pending
	mid := nodeL + (nodeR-nodeL)/2

	left := dt.materialize(&nd.left)
	left.value = dt.alg.Apply(u, left.value, mid-nodeL+1)
	if nodeL != mid {
		left.pending = dt.alg.Compose(left.pending, u)
		left.hasPending = true
	}

	right := dt.materialize(&nd.right)
	right.value = dt.alg.Apply(u, right.value, nodeR-mid)
	if mid+1 != nodeR {
		right.pending = dt.alg.Compose(right.pending, u)
		right.hasPending = true
	}

	nd.pending = dt.alg.IdentityUpdate()
	nd.hasPending = false
}

// childValue reads a child aggregate, treating absence as identity.
func (dt *DynamicTree[V, U]) childValue(c *node[V, U]) V {
	if c == nil {
		return dt.alg.IdentityValue()
	}
	return c.value
}

// Update applies u to every position in the closed range [low, high].
//
// Description:
//
//	Bounds are clamped to the domain; an empty or inverted range is a
//	no-op. Only the nodes on the recursive decomposition boundary are
//	materialized: updating the full untouched domain creates exactly
//	one node.
//
// Complexity: O(log domain) time and newly created nodes.
func (dt *DynamicTree[V, U]) Update(ctx context.Context, low, high int64, u U) {
	ctx, span := tracer.Start(ctx, "arq.DynamicTree.Update",
		trace.WithAttributes(
			attribute.Int64("low", low),
			attribute.Int64("high", high),
		),
	)
	defer span.End()

	start := time.Now()

	uL, uR, ok := clampRange64(low, high, dt.domain)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return
	}

	before := dt.nodeCount
	dt.root = dt.materializeRoot()
	dt.updateRec(dt.root, 0, dt.domain-1, uL, uR, u)
	dt.updateCount++
	dt.version++

	recordUpdateMetrics(ctx, "dynamic", time.Since(start))
	recordNodesMaterialized(ctx, "dynamic", dt.nodeCount-before)
	span.SetAttributes(attribute.Int64("nodes_created", dt.nodeCount-before))
	span.SetStatus(codes.Ok, "update complete")
}

func (dt *DynamicTree[V, U]) materializeRoot() *node[V, U] {
	if dt.root == nil {
		dt.root = &node[V, U]{
			value:   dt.alg.IdentityValue(),
			pending: dt.alg.IdentityUpdate(),
		}
		dt.nodeCount++
	}
	return dt.root
}

// updateRec applies u to [uL, uR] within nd covering [nodeL, nodeR].
// nd is always materialized by the caller.
func (dt *DynamicTree[V, U]) updateRec(nd *node[V, U], nodeL, nodeR, uL, uR int64, u U) {
	if uL <= nodeL && nodeR <= uR {
		nd.value = dt.alg.Apply(u, nd.value, nodeR-nodeL+1)
		if nodeL != nodeR {
			nd.pending = dt.alg.Compose(nd.pending, u)
			nd.hasPending = true
		}
		return
	}

	dt.pushDown(nd, nodeL, nodeR)

	mid := nodeL + (nodeR-nodeL)/2
	if uL <= mid {
		left := dt.materialize(&nd.left)
		dt.updateRec(left, nodeL, mid, uL, min(uR, mid), u)
	}
	if uR > mid {
		right := dt.materialize(&nd.right)
		dt.updateRec(right, mid+1, nodeR, max(uL, mid+1), uR, u)
	}

	nd.value = dt.alg.Combine(dt.childValue(nd.left), dt.childValue(nd.right))
}

// Set assigns position index to value v.
//
// Description:
//
//	Point assignment, materializing only the root-to-leaf path.
//	Out-of-bounds indices are ignored.
//
// Complexity: O(log domain).
func (dt *DynamicTree[V, U]) Set(ctx context.Context, index int64, v V) {
	ctx, span := tracer.Start(ctx, "arq.DynamicTree.Set",
		trace.WithAttributes(attribute.Int64("index", index)),
	)
	defer span.End()

	if index < 0 || index >= dt.domain {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "out of bounds")
		return
	}

	before := dt.nodeCount
	dt.root = dt.materializeRoot()
	dt.setRec(dt.root, 0, dt.domain-1, index, v)
	dt.updateCount++
	dt.version++

	recordNodesMaterialized(ctx, "dynamic", dt.nodeCount-before)
	span.SetStatus(codes.Ok, "set complete")
}

func (dt *DynamicTree[V, U]) setRec(nd *node[V, U], nodeL, nodeR, index int64, v V) {
	if nodeL == nodeR {
		nd.value = v
		return
	}

	dt.pushDown(nd, nodeL, nodeR)

	mid := nodeL + (nodeR-nodeL)/2
	if index <= mid {
		dt.setRec(dt.materialize(&nd.left), nodeL, mid, index, v)
	} else {
		dt.setRec(dt.materialize(&nd.right), mid+1, nodeR, index, v)
	}

	nd.value = dt.alg.Combine(dt.childValue(nd.left), dt.childValue(nd.right))
}

// Query computes the aggregate over the closed range [low, high].
//
// Description:
//
//	Bounds are clamped; empty or inverted ranges yield the identity
//	value. Regions the query only reads as implicit identity are never
//	materialized; descent through a node with pending state pushes the
//	update down first, which materializes that node's two children.
//
// Complexity: O(log domain).
func (dt *DynamicTree[V, U]) Query(ctx context.Context, low, high int64) V {
	ctx, span := tracer.Start(ctx, "arq.DynamicTree.Query",
		trace.WithAttributes(
			attribute.Int64("low", low),
			attribute.Int64("high", high),
		),
	)
	defer span.End()

	start := time.Now()

	qL, qR, ok := clampRange64(low, high, dt.domain)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return dt.alg.IdentityValue()
	}

	result := dt.queryRec(dt.root, 0, dt.domain-1, qL, qR)
	dt.queryCount++

	recordQueryMetrics(ctx, "dynamic", time.Since(start))
	span.SetStatus(codes.Ok, "query complete")
	return result
}

func (dt *DynamicTree[V, U]) queryRec(nd *node[V, U], nodeL, nodeR, qL, qR int64) V {
	if nd == nil || qR < nodeL || qL > nodeR {
		return dt.alg.IdentityValue()
	}

	if qL <= nodeL && nodeR <= qR {
		return nd.value
	}

	dt.pushDown(nd, nodeL, nodeR)

	mid := nodeL + (nodeR-nodeL)/2
	left := dt.queryRec(nd.left, nodeL, mid, qL, qR)
	right := dt.queryRec(nd.right, mid+1, nodeR, qL, qR)

	return dt.alg.Combine(left, right)
}

// Domain returns the exclusive upper index bound.
func (dt *DynamicTree[V, U]) Domain() int64 {
	return dt.domain
}

// NodeCount returns the number of materialized nodes.
func (dt *DynamicTree[V, U]) NodeCount() int64 {
	return dt.nodeCount
}

// Stats returns statistics about the tree.
func (dt *DynamicTree[V, U]) Stats() DynamicTreeStats {
	return DynamicTreeStats{
		Domain:      dt.domain,
		NodeCount:   dt.nodeCount,
		Version:     dt.version,
		BuildTime:   dt.buildTime,
		QueryCount:  dt.queryCount,
		UpdateCount: dt.updateCount,
	}
}
