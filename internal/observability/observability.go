// Package observability provides structured logging, Prometheus metrics
// and health checks for swarmshield.
//
// Metrics and health are served on separate ports: /metrics on one,
// /health and /ready on the other.
package observability
