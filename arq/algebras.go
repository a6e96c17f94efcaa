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
	"log/slog"
	"math"
)

// saturatingAdd adds two int64 values, saturating at MaxInt64/MinInt64
// instead of wrapping. Overflow is logged once per occurrence.
func saturatingAdd(a, b int64) int64 {
	if a > 0 && b > 0 && a > math.MaxInt64-b {
		slog.Warn("integer overflow in ARQ sum",
			slog.Int64("a", a),
			slog.Int64("b", b),
		)
		return math.MaxInt64
	}
	if a < 0 && b < 0 && a < math.MinInt64-b {
		slog.Warn("integer underflow in ARQ sum",
			slog.Int64("a", a),
			slog.Int64("b", b),
		)
		return math.MinInt64
	}
	return a + b
}

// saturatingMul multiplies two int64 values, saturating on overflow.
func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a {
		if (a > 0) == (b > 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return p
}

// SumAlgebra aggregates int64 sums with range-add updates.
//
// Combine saturates at MaxInt64/MinInt64 on overflow rather than
// wrapping. Apply scales the delta by the span size: adding c to every
// element of a span of n elements adds c*n to the span's sum.
type SumAlgebra struct{}

func (SumAlgebra) Combine(a, b int64) int64        { return saturatingAdd(a, b) }
func (SumAlgebra) Compose(first, next int64) int64 { return saturatingAdd(first, next) }
func (SumAlgebra) Apply(u, v int64, span int64) int64 {
	return saturatingAdd(v, saturatingMul(u, span))
}
func (SumAlgebra) IdentityValue() int64  { return 0 }
func (SumAlgebra) IdentityUpdate() int64 { return 0 }

// MinAlgebra aggregates int64 minima with range-add updates.
//
// The identity value MaxInt64 marks a span with no real elements; Apply
// leaves it untouched so untouched sparse regions stay "unset" instead
// of absorbing deltas.
type MinAlgebra struct{}

func (MinAlgebra) Combine(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
func (MinAlgebra) Compose(first, next int64) int64 { return saturatingAdd(first, next) }
func (MinAlgebra) Apply(u, v int64, _ int64) int64 {
	if v == math.MaxInt64 {
		return v
	}
	return saturatingAdd(v, u)
}
func (MinAlgebra) IdentityValue() int64  { return math.MaxInt64 }
func (MinAlgebra) IdentityUpdate() int64 { return 0 }

// MaxAlgebra aggregates int64 maxima with range-add updates.
type MaxAlgebra struct{}

func (MaxAlgebra) Combine(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
func (MaxAlgebra) Compose(first, next int64) int64 { return saturatingAdd(first, next) }
func (MaxAlgebra) Apply(u, v int64, _ int64) int64 {
	if v == math.MinInt64 {
		return v
	}
	return saturatingAdd(v, u)
}
func (MaxAlgebra) IdentityValue() int64  { return math.MinInt64 }
func (MaxAlgebra) IdentityUpdate() int64 { return 0 }

// Assign is the pending update of AssignSumAlgebra: overwrite every
// element in range with Value. The zero Assign (Set false) is the
// identity update.
type Assign struct {
	Set   bool
	Value int64
}

// AssignSumAlgebra aggregates int64 sums with range-assignment updates.
//
// Composition keeps only the later assignment: assigning x then y over
// the same span is just assigning y.
type AssignSumAlgebra struct{}

func (AssignSumAlgebra) Combine(a, b int64) int64 { return saturatingAdd(a, b) }
func (AssignSumAlgebra) Compose(first, next Assign) Assign {
	if next.Set {
		return next
	}
	return first
}
func (AssignSumAlgebra) Apply(u Assign, v int64, span int64) int64 {
	if !u.Set {
		return v
	}
	return saturatingMul(u.Value, span)
}
func (AssignSumAlgebra) IdentityValue() int64   { return 0 }
func (AssignSumAlgebra) IdentityUpdate() Assign { return Assign{} }
