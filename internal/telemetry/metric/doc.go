// Package metric provides Prometheus metrics for fencevirt.
//
// Metrics cover:
//
//   - requests received per transport and action
//   - requests dropped before dispatch, by reason
//   - backend results and latency
//   - process group membership, pending forwarded requests and VM ownership
//
// The status endpoint serves them at /metrics when http.addr is configured.
package metric
