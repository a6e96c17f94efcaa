// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config. "none" disables the signal entirely,
// leaving the global provider a no-op.
const (
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// Config selects where spans and metrics go. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// ServiceName and ServiceVersion identify this process in every
	// exported span and metric.
	ServiceName    string
	ServiceVersion string

	// Environment tags the deployment (development, staging, production).
	Environment string

	// TraceExporter is one of ExporterOTLP, ExporterStdout, ExporterNone.
	TraceExporter string

	// MetricExporter is one of ExporterPrometheus, ExporterStdout,
	// ExporterNone. The prometheus exporter is pull-based; serve the
	// handler from MetricsHandler to expose it.
	MetricExporter string

	// OTLPEndpoint is the gRPC receiver for OTLP traces. OTLPInsecure
	// disables TLS, which is the norm for a local collector.
	OTLPEndpoint string
	OTLPInsecure bool
}

// DefaultConfig reads the standard OTel environment variables and falls
// back to local-development defaults: OTLP traces to a collector on
// localhost, Prometheus metrics.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "arq",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("ARQ_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", ExporterOTLP),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Init installs global otel providers per cfg.
//
// Description:
//
//	The arq package records spans and metrics against the global
//	providers, which are no-ops until Init replaces them. After a
//	successful Init every tracer and meter already created by importers
//	starts exporting; no re-wiring is needed.
//
// Outputs:
//
//	shutdown - Flushes and stops the installed providers. Must be called
//	before exit or buffered spans are lost.
//	error - Non-nil on a nil ctx, an unknown exporter name, or an
//	exporter that fails to construct.
//
// Thread Safety: call once at startup, before concurrent use.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	var cleanup shutdownChain

	if cfg.TraceExporter != ExporterNone {
		exp, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exp),
			trace.WithResource(res),
			trace.WithSampler(trace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		cleanup = append(cleanup, tp.Shutdown)
	}

	if cfg.MetricExporter != ExporterNone {
		reader, err := newMetricReader(cfg)
		if err != nil {
			return nil, fmt.Errorf("metric reader: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(reader),
		)
		otel.SetMeterProvider(mp)
		cleanup = append(cleanup, mp.Shutdown)
	}

	return cleanup.shutdown, nil
}

// shutdownChain aggregates provider shutdowns so Init can hand back a
// single cleanup func regardless of which signals are enabled.
type shutdownChain []func(context.Context) error

func (c shutdownChain) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range c {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newSpanExporter builds the span exporter named by cfg.TraceExporter.
func newSpanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

// newMetricReader builds the metric reader named by cfg.MetricExporter.
// The prometheus reader also publishes the scrape handler.
func newMetricReader(cfg Config) (metric.Reader, error) {
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		exporter, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		// The otel prometheus exporter registers with the default
		// prometheus registry, so the stock promhttp handler serves it.
		promHTTP.mu.Lock()
		promHTTP.handler = promhttp.Handler()
		promHTTP.mu.Unlock()
		return exporter, nil

	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exporter), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

var promHTTP struct {
	mu      sync.RWMutex
	handler http.Handler
}

// MetricsHandler returns the /metrics scrape handler, or nil when the
// prometheus exporter is not active.
//
// Thread Safety: safe for concurrent use.
func MetricsHandler() http.Handler {
	promHTTP.mu.RLock()
	defer promHTTP.mu.RUnlock()
	return promHTTP.handler
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
