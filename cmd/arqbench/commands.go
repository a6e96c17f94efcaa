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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/arq/arq"
	"github.com/AleutianAI/arq/pkg/telemetry"
)

// --- Global Command Variables ---
var (
	benchSize    int64
	benchDomain  int64
	benchOps     int64
	benchSeed    int64
	benchAlgebra string
	numVersions  int64
	moBlockSize  int64
	serveMetrics bool
	metricsPort  int

	telemetryShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "arqbench",
		Short: "Randomized workload driver for the ARQ range-query engine",
		Long: `arqbench runs randomized query/update workloads against the
ARQ trees and verifies every answer against a naive oracle, reporting
throughput and structural statistics when the workload completes.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			shutdown, err := telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			telemetryShutdown = shutdown

			if serveMetrics {
				startMetricsServer(metricsPort)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if telemetryShutdown != nil {
				if err := telemetryShutdown(context.Background()); err != nil {
					slog.Warn("telemetry shutdown", slog.Any("error", err))
				}
			}
		},
	}

	staticCmd = &cobra.Command{
		Use:   "static",
		Short: "Benchmark the array-backed tree against a naive oracle",
		RunE:  runStaticBench,
	}

	dynamicCmd = &cobra.Command{
		Use:   "dynamic",
		Short: "Benchmark the sparse tree over a large index domain",
		RunE:  runDynamicBench,
	}

	persistentCmd = &cobra.Command{
		Use:   "persistent",
		Short: "Benchmark version derivation and cross-version queries",
		RunE:  runPersistentBench,
	}

	moCmd = &cobra.Command{
		Use:   "mo",
		Short: "Benchmark offline batch solving against per-query answers",
		RunE:  runMoBench,
	}
)

func init() {
	rootCmd.PersistentFlags().Int64Var(&benchSeed, "seed", 42, "Seed for the workload generator")
	rootCmd.PersistentFlags().Int64Var(&benchOps, "ops", 10_000, "Number of operations to run")
	rootCmd.PersistentFlags().StringVar(&benchAlgebra, "algebra", "sum", "Aggregate algebra: sum, min, or max")
	rootCmd.PersistentFlags().BoolVar(&serveMetrics, "serve-metrics", false, "Expose Prometheus metrics over HTTP")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 9090, "Port for the /metrics endpoint")

	staticCmd.Flags().Int64Var(&benchSize, "size", 100_000, "Sequence length")
	dynamicCmd.Flags().Int64Var(&benchDomain, "domain", 1_000_000_000, "Index domain size")
	persistentCmd.Flags().Int64Var(&benchDomain, "domain", 1_000_000, "Index domain size")
	persistentCmd.Flags().Int64Var(&numVersions, "versions", 200, "Number of versions to derive and retain")
	moCmd.Flags().Int64Var(&benchSize, "size", 100_000, "Sequence length")
	moCmd.Flags().Int64Var(&moBlockSize, "block-size", 0, "Override Mo block size (0 = auto)")

	rootCmd.AddCommand(staticCmd, dynamicCmd, persistentCmd, moCmd)
}

// setupLogging installs a text slog handler honoring ARQ_LOG_LEVEL.
func setupLogging() {
	level := slog.LevelInfo
	switch os.Getenv("ARQ_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// startMetricsServer serves /metrics in the background for scraping and
// shuts down on SIGINT/SIGTERM.
func startMetricsServer(port int) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		slog.Warn("metrics handler unavailable; is the prometheus exporter enabled?")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		slog.Info("serving metrics", slog.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		_ = srv.Shutdown(context.Background())
	}()
}

// selectAlgebra maps the --algebra flag to a concrete algebra.
func selectAlgebra(name string) (arq.Algebra[int64, int64], error) {
	switch name {
	case "sum":
		return arq.SumAlgebra{}, nil
	case "min":
		return arq.MinAlgebra{}, nil
	case "max":
		return arq.MaxAlgebra{}, nil
	default:
		return nil, fmt.Errorf("unknown algebra %q (want sum, min, or max)", name)
	}
}
