// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/arq/arq"
)

// oracleSampleRate controls how often workload answers are cross-checked
// against the naive oracle. Checking every operation would make the
// oracle dominate the run at large sizes.
const oracleSampleRate = 50

// runStaticBench drives a mixed query/update workload over the
// array-backed tree, verifying sampled answers against a plain slice.
func runStaticBench(cmd *cobra.Command, args []string) error {
	alg, err := selectAlgebra(benchAlgebra)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rng := rand.New(rand.NewSource(benchSeed))

	values := make([]int64, benchSize)
	for i := range values {
		values[i] = rng.Int63n(2000) - 1000
	}

	tree, err := arq.NewStaticTree(ctx, values, alg)
	if err != nil {
		return fmt.Errorf("build static tree: %w", err)
	}

	oracle := append([]int64(nil), values...)
	start := time.Now()
	var checked, mismatches int64

	for op := int64(0); op < benchOps; op++ {
		low := rng.Int63n(benchSize)
		high := low + rng.Int63n(benchSize-low)

		if rng.Intn(2) == 0 {
			delta := rng.Int63n(20) - 10
			tree.Update(ctx, int(low), int(high), delta)
			for i := low; i <= high; i++ {
				oracle[i] += delta
			}
			continue
		}

		got := tree.Query(ctx, int(low), int(high))
		if op%oracleSampleRate == 0 {
			checked++
			if got != naiveAggregate(alg, oracle[low:high+1]) {
				mismatches++
				slog.Error("oracle mismatch", slog.Int64("low", low), slog.Int64("high", high))
			}
		}
	}

	elapsed := time.Since(start)
	stats := tree.Stats()
	slog.Info("static workload complete",
		slog.Int64("ops", benchOps),
		slog.Int64("checked", checked),
		slog.Int64("mismatches", mismatches),
		slog.Duration("elapsed", elapsed),
		slog.Float64("ops_per_sec", float64(benchOps)/elapsed.Seconds()),
		slog.Int("size", stats.Size),
		slog.Int64("version", stats.Version),
	)
	if mismatches > 0 {
		return fmt.Errorf("static workload: %d oracle mismatches", mismatches)
	}
	return nil
}

// runDynamicBench drives sparse range updates over a large domain. With
// the sum algebra, answers are verified against a coordinate map; other
// algebras run unverified for throughput only.
func runDynamicBench(cmd *cobra.Command, args []string) error {
	alg, err := selectAlgebra(benchAlgebra)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rng := rand.New(rand.NewSource(benchSeed))

	tree, err := arq.NewDynamicTree(ctx, benchDomain, alg)
	if err != nil {
		return fmt.Errorf("create dynamic tree: %w", err)
	}

	verify := benchAlgebra == "sum"
	points := make(map[int64]int64)
	start := time.Now()
	var checked, mismatches int64

	for op := int64(0); op < benchOps; op++ {
		if rng.Intn(2) == 0 {
			pos := rng.Int63n(benchDomain)
			v := rng.Int63n(2000) - 1000
			tree.Set(ctx, pos, v)
			points[pos] = v
			continue
		}

		low := rng.Int63n(benchDomain)
		high := low + rng.Int63n(benchDomain-low)
		got := tree.Query(ctx, low, high)
		if verify && op%oracleSampleRate == 0 {
			checked++
			var want int64
			for pos, v := range points {
				if pos >= low && pos <= high {
					want += v
				}
			}
			if got != want {
				mismatches++
				slog.Error("oracle mismatch", slog.Int64("low", low), slog.Int64("high", high))
			}
		}
	}

	elapsed := time.Since(start)
	stats := tree.Stats()
	slog.Info("dynamic workload complete",
		slog.Int64("ops", benchOps),
		slog.Int64("checked", checked),
		slog.Int64("mismatches", mismatches),
		slog.Duration("elapsed", elapsed),
		slog.Int64("domain", stats.Domain),
		slog.Int64("nodes", stats.NodeCount),
	)
	if mismatches > 0 {
		return fmt.Errorf("dynamic workload: %d oracle mismatches", mismatches)
	}
	return nil
}

// runPersistentBench derives a chain of versions, retains all of them,
// and verifies each retained version's full-domain aggregate against
// the running total recorded when that version was created.
func runPersistentBench(cmd *cobra.Command, args []string) error {
	if benchAlgebra != "sum" {
		return fmt.Errorf("persistent workload verifies totals and requires --algebra sum")
	}
	alg := arq.SumAlgebra{}

	ctx := cmd.Context()
	rng := rand.New(rand.NewSource(benchSeed))

	base, err := arq.NewPersistentTree[int64, int64](ctx, benchDomain, alg)
	if err != nil {
		return fmt.Errorf("create persistent tree: %w", err)
	}

	versions := make([]*arq.PersistentTree[int64, int64], 0, numVersions+1)
	totals := make([]int64, 0, numVersions+1)
	versions = append(versions, base)
	totals = append(totals, 0)

	start := time.Now()
	total := int64(0)
	for k := int64(0); k < numVersions; k++ {
		low := rng.Int63n(benchDomain)
		high := low + rng.Int63n(benchDomain-low)
		delta := rng.Int63n(20) - 10

		next := versions[len(versions)-1].Update(ctx, low, high, delta)
		total += delta * (high - low + 1)
		versions = append(versions, next)
		totals = append(totals, total)
	}
	deriveElapsed := time.Since(start)

	var mismatches int64
	start = time.Now()
	for k, v := range versions {
		if got := v.Query(ctx, 0, benchDomain-1); got != totals[k] {
			mismatches++
			slog.Error("version total mismatch",
				slog.Int("version", k+1),
				slog.Int64("got", got),
				slog.Int64("want", totals[k]),
			)
		}
	}
	queryElapsed := time.Since(start)

	stats := versions[len(versions)-1].Stats()
	slog.Info("persistent workload complete",
		slog.Int64("versions", numVersions),
		slog.Int64("mismatches", mismatches),
		slog.Duration("derive_elapsed", deriveElapsed),
		slog.Duration("query_elapsed", queryElapsed),
		slog.Int64("family_nodes", stats.FamilyNodes),
		slog.Float64("nodes_per_version", float64(stats.FamilyNodes)/float64(stats.Versions)),
	)
	if mismatches > 0 {
		return fmt.Errorf("persistent workload: %d version mismatches", mismatches)
	}
	return nil
}

// moSumWindow is the incremental sum accumulator used by the Mo workload.
type moSumWindow struct {
	values []int64
	sum    int64
}

func (w *moSumWindow) Add(pos int64)    { w.sum += w.values[pos] }
func (w *moSumWindow) Remove(pos int64) { w.sum -= w.values[pos] }
func (w *moSumWindow) Answer() int64    { return w.sum }

// runMoBench solves an offline batch with Mo's algorithm and verifies
// every answer against a static tree over the same sequence.
func runMoBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rng := rand.New(rand.NewSource(benchSeed))

	values := make([]int64, benchSize)
	for i := range values {
		values[i] = rng.Int63n(2000) - 1000
	}

	queries := make([]arq.MoQuery, benchOps)
	for i := range queries {
		low := rng.Int63n(benchSize)
		high := low + rng.Int63n(benchSize-low)
		queries[i] = arq.MoQuery{Low: low, High: high, ID: int64(i)}
	}

	var opts []arq.MoOption
	if moBlockSize > 0 {
		opts = append(opts, arq.WithBlockSize(moBlockSize))
	}

	start := time.Now()
	results, err := arq.SolveMo(ctx, benchSize, queries, &moSumWindow{values: values}, opts...)
	if err != nil {
		return fmt.Errorf("solve batch: %w", err)
	}
	solveElapsed := time.Since(start)

	tree, err := arq.NewStaticTree[int64, int64](ctx, values, arq.SumAlgebra{})
	if err != nil {
		return fmt.Errorf("build check tree: %w", err)
	}

	var mismatches int64
	for _, q := range queries {
		if results[q.ID] != tree.Query(ctx, int(q.Low), int(q.High)) {
			mismatches++
			slog.Error("batch answer mismatch", slog.Int64("id", q.ID))
		}
	}

	slog.Info("mo workload complete",
		slog.Int64("queries", benchOps),
		slog.Int64("mismatches", mismatches),
		slog.Duration("solve_elapsed", solveElapsed),
		slog.Float64("queries_per_sec", float64(benchOps)/solveElapsed.Seconds()),
	)
	if mismatches > 0 {
		return fmt.Errorf("mo workload: %d answer mismatches", mismatches)
	}
	return nil
}

// naiveAggregate folds a slice with the algebra's Combine, seeding with
// the identity so empty slices are well defined.
func naiveAggregate(alg arq.Algebra[int64, int64], vals []int64) int64 {
	acc := alg.IdentityValue()
	for _, v := range vals {
		acc = alg.Combine(acc, v)
	}
	return acc
}
