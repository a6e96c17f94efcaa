// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arq implements associative range query (ARQ) trees: segment
// trees parametrized over a caller-supplied algebra of associative
// operations, supporting O(log N) range queries and lazy range updates.
//
// Three tree variants share the same algebra contract:
//   - StaticTree: array-backed, fully materialized, fixed size.
//   - DynamicTree: pointer-based, nodes materialized on first touch,
//     usable over sparse index domains far larger than memory.
//   - PersistentTree: immutable versions via path copying; every update
//     returns a new root and prior roots stay queryable.
//
// A fourth component, SolveMo, answers an offline batch of range queries
// without updates using block decomposition (Mo's algorithm).
//
// # Algebra Contract
//
// All tree logic is generic over Algebra[V, U]. The algebra's laws
// (associativity, identities, apply/compose consistency) are documented
// preconditions: the engine cannot detect violations at runtime, and a
// non-conforming algebra produces silently wrong aggregates. See the
// Algebra type for the exact laws.
//
// # Range Semantics
//
// Query and update ranges are closed index pairs clamped to the
// structure's bounds. An empty or inverted range is not an error: queries
// return the algebra's identity value and updates are no-ops. Only
// constructor misuse (nil context, nil algebra, empty or oversized input)
// returns an error.
//
// # Thread Safety
//
// StaticTree and DynamicTree are single-owner structures and are NOT safe
// for concurrent mutation. A published PersistentTree version is safe for
// concurrent readers: its nodes are never mutated after the version is
// returned, and Query performs no mutation or allocation.
package arq

import "errors"

// Sentinel errors for ARQ tree construction and batch solving.
var (
	// ErrNilContext is returned when a constructor receives a nil context.
	ErrNilContext = errors.New("ctx must not be nil")

	// ErrNilAlgebra is returned when a constructor receives a nil algebra.
	ErrNilAlgebra = errors.New("algebra must not be nil")

	// ErrEmptyValues is returned when building a tree from an empty slice.
	ErrEmptyValues = errors.New("values must not be empty")

	// ErrValuesTooLarge is returned when the initial slice exceeds the
	// maximum supported size.
	ErrValuesTooLarge = errors.New("values size exceeds maximum")

	// ErrInvalidDomain is returned when a sparse tree is created over a
	// non-positive index domain.
	ErrInvalidDomain = errors.New("domain must be positive")

	// ErrBuildCancelled is returned when tree construction is cancelled
	// via context.
	ErrBuildCancelled = errors.New("build cancelled")

	// ErrNilAccumulator is returned when SolveMo receives a nil
	// accumulator.
	ErrNilAccumulator = errors.New("accumulator must not be nil")

	// ErrInvalidLength is returned when SolveMo receives a non-positive
	// sequence length.
	ErrInvalidLength = errors.New("sequence length must be positive")

	// ErrSolveCancelled is returned when SolveMo is cancelled via context.
	ErrSolveCancelled = errors.New("solve cancelled")
)
