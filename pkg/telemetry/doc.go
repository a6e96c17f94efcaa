// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry connects the ARQ engine's instrumentation to real
// exporters.
//
// The arq package traces every public operation and records build,
// query, update and node-materialization metrics, but it does so against
// the global OpenTelemetry providers, which are no-ops by default. A
// library importer who wants that data calls Init once at startup;
// embedding arq without ever touching this package is equally supported
// and costs close to nothing.
//
// # Exporters
//
// Traces go to an OTLP gRPC collector (the default; any OTLP-compatible
// backend works) or pretty-printed to stdout for local debugging.
// Metrics are pull-based Prometheus by default: after Init, serve
// MetricsHandler under /metrics and point a scraper at it. Either signal
// can be disabled independently with "none".
//
// # Configuration
//
// DefaultConfig honors the standard OTel environment variables plus one
// of this project's own:
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: otlp)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector endpoint (default: localhost:4317)
//   - ARQ_ENV: deployment environment tag (default: development)
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(ctx)
//
// For log/trace correlation, LoggerWithTrace returns an slog.Logger that
// stamps trace_id and span_id onto every record.
//
// # Thread Safety
//
// Init must complete before concurrent use; everything else is safe for
// concurrent use.
package telemetry
