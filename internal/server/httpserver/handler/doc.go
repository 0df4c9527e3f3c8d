// Package handler implements the status endpoint routes: health,
// readiness and the host list.
package handler
