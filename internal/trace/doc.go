// Package trace records phase lifecycle events for analysis runs and fans
// them out to configured sinks.
//
// The tracer is advisory: a failing sink is logged and skipped, never
// surfaced to the run. Built-in sinks cover an append-only NDJSON file, a
// NATS subject per session, and an in-process feed for live dashboards.
// Phase metrics are exported through Prometheus alongside the sinks.
package trace
