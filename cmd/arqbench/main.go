// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command arqbench drives randomized workloads against the ARQ engine
// and cross-checks every answer against a naive oracle.
//
// Usage:
//
//	go run ./cmd/arqbench static --size 100000 --ops 50000
//	go run ./cmd/arqbench dynamic --domain 1000000000 --ops 20000
//	go run ./cmd/arqbench persistent --domain 1000000 --versions 500
//	go run ./cmd/arqbench mo --size 200000 --ops 5000
//
// With Prometheus metrics exposed for scraping:
//
//	go run ./cmd/arqbench static --serve-metrics --metrics-port 9090
//
// Telemetry follows the standard OTel environment variables
// (OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT).
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
