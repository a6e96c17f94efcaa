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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// familyStats is shared by every version derived from one root so the
// whole version forest can report cumulative node materialization.
type familyStats struct {
	nodes    int64
	versions int64
}

// PersistentTree is an immutable version of a sparse ARQ tree.
//
// Description:
//
//	Every mutating operation returns a NEW PersistentTree sharing all
//	unmodified subtrees with the receiver (path copying); the receiver
//	remains a valid, fully queryable version. Versions form a forest
//	through structural sharing, never a cycle, and a version's nodes
//	are reclaimed by the garbage collector once no retained version
//	reaches them.
//
// Invariants:
//   - Nodes reachable from a published version are never mutated.
//   - A node's value is the aggregate of its span including its own
//     pending update; pending has not been applied to its children.
//   - Any pending update still held by an ancestor was recorded AFTER
//     every pending update below it, so queries may resolve ancestor
//     pendings by composing them on the way down.
//
// Thread Safety:
//
//	A published version is safe for concurrent readers: Query neither
//	mutates nor allocates. Deriving new versions from the same parent
//	concurrently is NOT coordinated; version history is sequential by
//	design.
type PersistentTree[V, U any] struct {
	alg     Algebra[V, U]
	root    *node[V, U]
	domain  int64
	version int64
	family  *familyStats
}

// PersistentTreeStats contains statistics about a version family.
type PersistentTreeStats struct {
	Domain      int64
	Version     int64
	FamilyNodes int64
	Versions    int64
}

// NewPersistentTree creates version 1: an empty sparse tree over
// indices [0, domain), every position holding the identity value.
func NewPersistentTree[V, U any](ctx context.Context, domain int64, alg Algebra[V, U]) (*PersistentTree[V, U], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if alg == nil {
		return nil, ErrNilAlgebra
	}
	if domain <= 0 || domain > maxDynamicDomain {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDomain, domain)
	}

	return &PersistentTree[V, U]{
		alg:     alg,
		domain:  domain,
		version: 1,
		family:  &familyStats{versions: 1},
	}, nil
}

// BuildPersistentTree creates version 1 seeded densely from a sequence;
// the domain equals len(values).
func BuildPersistentTree[V, U any](ctx context.Context, values []V, alg Algebra[V, U]) (*PersistentTree[V, U], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if alg == nil {
		return nil, ErrNilAlgebra
	}
	if len(values) == 0 {
		return nil, ErrEmptyValues
	}

	ctx, span := tracer.Start(ctx, "arq.BuildPersistentTree",
		trace.WithAttributes(attribute.Int("size", len(values))),
	)
	defer span.End()

	start := time.Now()

	pt := &PersistentTree[V, U]{
		alg:     alg,
		domain:  int64(len(values)),
		version: 1,
		family:  &familyStats{versions: 1},
	}

	root, err := buildDense(ctx, values, 0, pt.domain-1, alg, &pt.family.nodes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		recordBuildMetrics(ctx, "persistent", time.Since(start), false)
		return nil, fmt.Errorf("build persistent tree: %w", err)
	}
	pt.root = root

	recordBuildMetrics(ctx, "persistent", time.Since(start), true)
	recordNodesMaterialized(ctx, "persistent", pt.family.nodes)

	span.SetAttributes(attribute.Int64("nodes", pt.family.nodes))
	span.SetStatus(codes.Ok, "tree constructed")
	return pt, nil
}

// clone copies a node, or materializes a fresh identity node when the
// original is nil (an implicit subtree). The copy is private to the
// in-flight operation until the new version is returned.
func (pt *PersistentTree[V, U]) clone(orig *node[V, U]) *node[V, U] {
	pt.family.nodes++
	if orig == nil {
		return &node[V, U]{
			value:   pt.alg.IdentityValue(),
			pending: pt.alg.IdentityUpdate(),
		}
	}
	cp := *orig
	return &cp
}

// cloneApplied clones a child and applies update u to it: value via
// Apply over the child span, pending via Compose unless the child is a
// leaf. This is the clone-on-push-down step of persistent updates.
func (pt *PersistentTree[V, U]) cloneApplied(orig *node[V, U], u U, childL, childR int64) *node[V, U] {
	cp := pt.clone(orig)
	cp.value = pt.alg.Apply(u, cp.value, childR-childL+1)
	if childL != childR {
		cp.pending = pt.alg.Compose(cp.pending, u)
		cp.hasPending = true
	}
	return cp
}

// Update applies u to [low, high] and returns the resulting new version.
//
// Description:
//
//	The receiver is unchanged and remains queryable. Only nodes on the
//	recursive decomposition path are cloned; untouched subtrees are
//	shared by reference with the receiver. An empty or inverted range
//	(after clamping) returns the receiver itself.
//
// Complexity: O(log domain) time and cloned nodes per update.
func (pt *PersistentTree[V, U]) Update(ctx context.Context, low, high int64, u U) *PersistentTree[V, U] {
	ctx, span := tracer.Start(ctx, "arq.PersistentTree.Update",
		trace.WithAttributes(
			attribute.Int64("low", low),
			attribute.Int64("high", high),
			attribute.Int64("version", pt.version),
		),
	)
	defer span.End()

	start := time.Now()

	uL, uR, ok := clampRange64(low, high, pt.domain)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return pt
	}

	before := pt.family.nodes
	newRoot := pt.clone(pt.root)
	pt.updateOwned(newRoot, 0, pt.domain-1, uL, uR, u)

	next := pt.derive(newRoot)

	recordUpdateMetrics(ctx, "persistent", time.Since(start))
	recordNodesMaterialized(ctx, "persistent", pt.family.nodes-before)
	span.SetAttributes(
		attribute.Int64("nodes_cloned", pt.family.nodes-before),
		attribute.Int64("new_version", next.version),
	)
	span.SetStatus(codes.Ok, "update complete")
	return next
}

// derive wraps a freshly built root as the next version.
func (pt *PersistentTree[V, U]) derive(root *node[V, U]) *PersistentTree[V, U] {
	pt.family.versions++
	return &PersistentTree[V, U]{
		alg:     pt.alg,
		root:    root,
		domain:  pt.domain,
		version: pt.version + 1,
		family:  pt.family,
	}
}

// updateOwned applies u to [uL, uR] within nd, which is private to this
// operation (already cloned). Children are still shared and are cloned
// before being touched.
func (pt *PersistentTree[V, U]) updateOwned(nd *node[V, U], nodeL, nodeR, uL, uR int64, u U) {
	if uL <= nodeL && nodeR <= uR {
		nd.value = pt.alg.Apply(u, nd.value, nodeR-nodeL+1)
		if nodeL != nodeR {
			nd.pending = pt.alg.Compose(nd.pending, u)
			nd.hasPending = true
		}
		return
	}

	mid := nodeL + (nodeR-nodeL)/2

	if nd.hasPending {
		// Push down by cloning: the pending update predates u, so it
		// must reach both children before u lands deeper.
		nd.left = pt.cloneApplied(nd.left, nd.pending, nodeL, mid)
		nd.right = pt.cloneApplied(nd.right, nd.pending, mid+1, nodeR)
		nd.pending = pt.alg.IdentityUpdate()
		nd.hasPending = false
		if uL <= mid {
			pt.updateOwned(nd.left, nodeL, mid, uL, min(uR, mid), u)
		}
		if uR > mid {
			pt.updateOwned(nd.right, mid+1, nodeR, max(uL, mid+1), uR, u)
		}
	} else {
		if uL <= mid {
			nd.left = pt.clone(nd.left)
			pt.updateOwned(nd.left, nodeL, mid, uL, min(uR, mid), u)
		}
		if uR > mid {
			nd.right = pt.clone(nd.right)
			pt.updateOwned(nd.right, mid+1, nodeR, max(uL, mid+1), uR, u)
		}
	}

	nd.value = pt.alg.Combine(pt.nodeValue(nd.left), pt.nodeValue(nd.right))
}

// Set assigns position index to value v and returns the new version.
// Out-of-bounds indices return the receiver unchanged.
func (pt *PersistentTree[V, U]) Set(ctx context.Context, index int64, v V) *PersistentTree[V, U] {
	ctx, span := tracer.Start(ctx, "arq.PersistentTree.Set",
		trace.WithAttributes(
			attribute.Int64("index", index),
			attribute.Int64("version", pt.version),
		),
	)
	defer span.End()

	if index < 0 || index >= pt.domain {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "out of bounds")
		return pt
	}

	before := pt.family.nodes
	newRoot := pt.clone(pt.root)
	pt.setOwned(newRoot, 0, pt.domain-1, index, v)

	next := pt.derive(newRoot)

	recordNodesMaterialized(ctx, "persistent", pt.family.nodes-before)
	span.SetAttributes(attribute.Int64("new_version", next.version))
	span.SetStatus(codes.Ok, "set complete")
	return next
}

func (pt *PersistentTree[V, U]) setOwned(nd *node[V, U], nodeL, nodeR, index int64, v V) {
	if nodeL == nodeR {
		nd.value = v
		return
	}

	mid := nodeL + (nodeR-nodeL)/2

	if nd.hasPending {
		// Push down by cloning; both children become private copies.
		nd.left = pt.cloneApplied(nd.left, nd.pending, nodeL, mid)
		nd.right = pt.cloneApplied(nd.right, nd.pending, mid+1, nodeR)
		nd.pending = pt.alg.IdentityUpdate()
		nd.hasPending = false
		if index <= mid {
			pt.setOwned(nd.left, nodeL, mid, index, v)
		} else {
			pt.setOwned(nd.right, mid+1, nodeR, index, v)
		}
	} else if index <= mid {
		nd.left = pt.clone(nd.left)
		pt.setOwned(nd.left, nodeL, mid, index, v)
	} else {
		nd.right = pt.clone(nd.right)
		pt.setOwned(nd.right, mid+1, nodeR, index, v)
	}

	nd.value = pt.alg.Combine(pt.nodeValue(nd.left), pt.nodeValue(nd.right))
}

// nodeValue reads a child aggregate, treating absence as identity.
func (pt *PersistentTree[V, U]) nodeValue(c *node[V, U]) V {
	if c == nil {
		return pt.alg.IdentityValue()
	}
	return c.value
}

// Query computes the aggregate over [low, high] for this version.
//
// Description:
//
//	Performs no mutation and no allocation, so it is safe against any
//	retained version, concurrently with readers of other versions.
//	Pending updates held by ancestors are composed into an accumulator
//	on the way down and resolved via Apply at covered nodes, instead
//	of being pushed down into shared children.
//
// Complexity: O(log domain).
func (pt *PersistentTree[V, U]) Query(ctx context.Context, low, high int64) V {
	ctx, span := tracer.Start(ctx, "arq.PersistentTree.Query",
		trace.WithAttributes(
			attribute.Int64("low", low),
			attribute.Int64("high", high),
			attribute.Int64("version", pt.version),
		),
	)
	defer span.End()

	start := time.Now()

	qL, qR, ok := clampRange64(low, high, pt.domain)
	if !ok {
		span.SetAttributes(attribute.Bool("empty_range", true))
		span.SetStatus(codes.Ok, "empty range")
		return pt.alg.IdentityValue()
	}

	result := pt.queryRec(pt.root, 0, pt.domain-1, qL, qR, pt.alg.IdentityUpdate(), false)

	recordQueryMetrics(ctx, "persistent", time.Since(start))
	span.SetStatus(codes.Ok, "query complete")
	return result
}

// queryRec answers [qL, qR] under nd covering [nodeL, nodeR]. acc is
// the composition of ancestor pendings not yet applied to this subtree;
// hasAcc avoids composing identities on the common no-pending path.
func (pt *PersistentTree[V, U]) queryRec(nd *node[V, U], nodeL, nodeR, qL, qR int64, acc U, hasAcc bool) V {
	if qR < nodeL || qL > nodeR {
		return pt.alg.IdentityValue()
	}

	if nd == nil {
		// Implicit identity subtree: the overlap aggregates to the
		// identity, transformed by any outstanding ancestor updates.
		ol := max(qL, nodeL)
		oh := min(qR, nodeR)
		if !hasAcc {
			return pt.alg.IdentityValue()
		}
		return pt.alg.Apply(acc, pt.alg.IdentityValue(), oh-ol+1)
	}

	if qL <= nodeL && nodeR <= qR {
		if !hasAcc {
			return nd.value
		}
		return pt.alg.Apply(acc, nd.value, nodeR-nodeL+1)
	}

	childAcc := acc
	childHasAcc := hasAcc
	if nd.hasPending {
		if hasAcc {
			childAcc = pt.alg.Compose(nd.pending, acc)
		} else {
			childAcc = nd.pending
		}
		childHasAcc = true
	}

	mid := nodeL + (nodeR-nodeL)/2
	left := pt.queryRec(nd.left, nodeL, mid, qL, qR, childAcc, childHasAcc)
	right := pt.queryRec(nd.right, mid+1, nodeR, qL, qR, childAcc, childHasAcc)

	return pt.alg.Combine(left, right)
}

// Get retrieves the value at index for this version. The second return
// is false when index is out of bounds.
func (pt *PersistentTree[V, U]) Get(ctx context.Context, index int64) (V, bool) {
	if index < 0 || index >= pt.domain {
		var zero V
		return zero, false
	}
	return pt.Query(ctx, index, index), true
}

// Version returns this version's sequence number (1 for the initial
// build, +1 per derived version).
func (pt *PersistentTree[V, U]) Version() int64 {
	return pt.version
}

// Domain returns the exclusive upper index bound.
func (pt *PersistentTree[V, U]) Domain() int64 {
	return pt.domain
}

// NodeCount returns the cumulative nodes materialized by this version's
// whole family (all versions sharing a common ancestor).
func (pt *PersistentTree[V, U]) NodeCount() int64 {
	return pt.family.nodes
}

// Stats returns statistics about this version and its family.
func (pt *PersistentTree[V, U]) Stats() PersistentTreeStats {
	return PersistentTreeStats{
		Domain:      pt.domain,
		Version:     pt.version,
		FamilyNodes: pt.family.nodes,
		Versions:    pt.family.versions,
	}
}
