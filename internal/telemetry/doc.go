// Package telemetry holds the ambient instrumentation shared by the cache
// tiers: a structured logger built on log/slog, in-process counters that
// back Cache.Stats, a Prometheus collector over those counters, and
// OpenTelemetry tracing helpers.
package telemetry
