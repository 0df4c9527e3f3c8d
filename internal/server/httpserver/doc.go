// Package httpserver serves the fencevirtd status endpoint.
//
// The endpoint is read-only and never fences anything:
//
//   - /metrics: Prometheus metrics
//   - /health: liveness
//   - /ready: the backend answers a device status check
//   - /v1/hosts: the backend's host list as JSON
//
// Every route passes through Recover, RequestID, NetworkACL, RateLimit and
// Audit, in that order.
package httpserver
