// Package metrics exposes Prometheus instrumentation for sessions, remote
// links, audio throughput, event delivery, and the HTTP surface.
package metrics
