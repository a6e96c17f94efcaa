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

// Algebra defines the operations every ARQ tree is parametrized over.
//
// Description:
//
//	V is the aggregate value type, U the pending update type. The tree
//	engine composes these operations but never inspects V or U directly,
//	so any element type works: integers, matrices, frequency tables.
//
// Laws (preconditions, undefined behavior if violated):
//   - Combine is associative. Combine(IdentityValue(), v) == v and
//     Combine(v, IdentityValue()) == v. Commutativity is NOT required:
//     the engine preserves left-to-right merge order at every level.
//   - Compose is associative with identity IdentityUpdate().
//     Compose(u1, u2) means "apply u1 first, then u2".
//   - Apply(IdentityUpdate(), v, n) == v.
//   - Apply(Compose(u1, u2), v, n) == Apply(u2, Apply(u1, v, n), n).
//   - For adjacent spans: Apply(u, Combine(a, b), n+m) ==
//     Combine(Apply(u, a, n), Apply(u, b, m)).
//
// The span argument to Apply is the number of leaves the aggregate v
// covers. Updates whose effect scales with the number of elements
// ("add c to every element" over a sum aggregate) need it; updates that
// do not (range-add over a min aggregate) may ignore it.
//
// Thread Safety: implementations must be pure functions; the engine may
// call them from any goroutine holding the structure.
type Algebra[V, U any] interface {
	// Combine merges the aggregates of two adjacent spans, left first.
	Combine(a, b V) V

	// Compose merges two pending updates into one equivalent update,
	// first applied first.
	Compose(first, next U) U

	// Apply applies update u to aggregate v covering span leaves.
	Apply(u U, v V, span int64) V

	// IdentityValue is the aggregate of an empty span.
	IdentityValue() V

	// IdentityUpdate is the update with no effect.
	IdentityUpdate() U
}

// FuncAlgebra adapts five closures into an Algebra.
//
// Description:
//
//	Convenience for one-off instantiations (frequency counts, GCD,
//	custom structs) without declaring a named type. All five fields must
//	be non-nil; the closures must satisfy the Algebra laws.
//
// Example:
//
//	gcdAlg := arq.FuncAlgebra[int64, int64]{
//	    CombineFunc:  gcd,
//	    ComposeFunc:  func(_, next int64) int64 { return next },
//	    ApplyFunc:    func(u, _ int64, _ int64) int64 { return u },
//	    ValueIdent:   func() int64 { return 0 },
//	    UpdateIdent:  func() int64 { return 0 },
//	}
type FuncAlgebra[V, U any] struct {
	CombineFunc func(a, b V) V
	ComposeFunc func(first, next U) U
	ApplyFunc   func(u U, v V, span int64) V
	ValueIdent  func() V
	UpdateIdent func() U
}

func (f FuncAlgebra[V, U]) Combine(a, b V) V              { return f.CombineFunc(a, b) }
func (f FuncAlgebra[V, U]) Compose(first, next U) U       { return f.ComposeFunc(first, next) }
func (f FuncAlgebra[V, U]) Apply(u U, v V, span int64) V  { return f.ApplyFunc(u, v, span) }
func (f FuncAlgebra[V, U]) IdentityValue() V              { return f.ValueIdent() }
func (f FuncAlgebra[V, U]) IdentityUpdate() U             { return f.UpdateIdent() }
