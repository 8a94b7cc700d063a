// Package metrics defines the Prometheus metrics exported on /metrics.
// Metrics are registered on an injected registry so tests and multiple
// servers in one process never collide.
package metrics
