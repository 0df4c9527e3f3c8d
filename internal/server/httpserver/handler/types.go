package handler

import (
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Response is the JSON envelope of every reply except /metrics.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status   string `json:"status"`
	Listener string `json:"listener"`
	Uptime   string `json:"uptime"`
}

// ReadyStatus is the body of /ready.
type ReadyStatus struct {
	Status   string `json:"status"`
	Response string `json:"backend_response"`
}

// Host is one entry of /v1/hosts.
type Host struct {
	Domain string `json:"domain"`
	UUID   string `json:"uuid"`
	State  string `json:"state"`
}

// HostOf converts a backend host record.
func HostOf(h domain.HostState) Host {
	return Host{Domain: h.Domain, UUID: h.UUID, State: h.State.String()}
}
