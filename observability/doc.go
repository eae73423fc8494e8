// Package observability provides an OpenTelemetry metrics extension for
// punt. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for enqueues, completions, retries, dead letters,
// and retry promotions.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
