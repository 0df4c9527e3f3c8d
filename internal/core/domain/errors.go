// Package domain defines the core fencing codes and error taxonomy.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes use the form FV-<AREA>-<NNNN>; the area names the error category.
type DomainError struct {
	Code    string // Error code (e.g., "FV-AUTH-4010")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Authentication Errors (AUTH)
// Verification and handshake failures. Never distinguished on the wire.
// ============================================================================

var (
	// ErrVerifyFailed indicates the request signature did not match.
	ErrVerifyFailed = NewDomainError("FV-AUTH-4010", "request verification failed")

	// ErrHashTooWeak indicates the request hash is weaker than the configured minimum.
	ErrHashTooWeak = NewDomainError("FV-AUTH-4011", "request hash weaker than required")

	// ErrNoKey indicates hashing was required but no key material is loaded.
	ErrNoKey = NewDomainError("FV-AUTH-4012", "no key material available")

	// ErrChallengeFailed indicates the peer failed the challenge-response exchange.
	ErrChallengeFailed = NewDomainError("FV-AUTH-4013", "challenge response mismatch")

	// ErrUnsupportedHash indicates an unknown hash type code.
	ErrUnsupportedHash = NewDomainError("FV-AUTH-4001", "unsupported hash type")
)

// ============================================================================
// Wire Errors (WIRE)
// Framing and decoding failures; handled exactly like authentication failures.
// ============================================================================

var (
	// ErrTruncated indicates a frame shorter than its fixed layout.
	ErrTruncated = NewDomainError("FV-WIRE-4000", "truncated frame")

	// ErrBadMagic indicates a serial frame without the expected magic.
	ErrBadMagic = NewDomainError("FV-WIRE-4001", "bad frame magic")

	// ErrDomainTooLong indicates a domain name that does not fit the wire field.
	ErrDomainTooLong = NewDomainError("FV-WIRE-4002", "domain name too long")

	// ErrBadAddress indicates an unusable requester address or family.
	ErrBadAddress = NewDomainError("FV-WIRE-4003", "bad requester address")

	// ErrUnknownAction indicates an action code outside the known set.
	ErrUnknownAction = NewDomainError("FV-WIRE-4004", "unknown action")
)

// ============================================================================
// History Errors (HIST)
// ============================================================================

var (
	// ErrDuplicate indicates an equivalent entry is already recorded.
	ErrDuplicate = NewDomainError("FV-HIST-4090", "duplicate request")
)

// ============================================================================
// Backend Errors (BACK)
// Hypervisor and backend failures; the operation reports failure, the loop continues.
// ============================================================================

var (
	// ErrDomainNotFound indicates the hypervisor does not know the domain.
	ErrDomainNotFound = NewDomainError("FV-BACK-4040", "domain not found")

	// ErrBackendUnavailable indicates no hypervisor connection could be established.
	ErrBackendUnavailable = NewDomainError("FV-BACK-5030", "backend unavailable")

	// ErrUnknownBackend indicates no backend is registered under the name.
	ErrUnknownBackend = NewDomainError("FV-BACK-4000", "unknown backend")

	// ErrUnknownDriver indicates no hypervisor driver handles the URI scheme.
	ErrUnknownDriver = NewDomainError("FV-BACK-4001", "unknown hypervisor driver")
)

// ============================================================================
// Group Errors (GRP)
// ============================================================================

var (
	// ErrGroupJoin indicates the process group could not be joined.
	ErrGroupJoin = NewDomainError("FV-GRP-5030", "group join failed")

	// ErrGroupClosed indicates the group has been left.
	ErrGroupClosed = NewDomainError("FV-GRP-5031", "group closed")

	// ErrNotLeader indicates a proposal reached a node that cannot order it.
	ErrNotLeader = NewDomainError("FV-GRP-5032", "not the group leader")
)

// ============================================================================
// Configuration Errors (CONF)
// Fatal at startup.
// ============================================================================

var (
	// ErrInvalidConfig indicates a configuration value failed verification.
	ErrInvalidConfig = NewDomainError("FV-CONF-1001", "invalid configuration")

	// ErrUnknownListener indicates no listener is registered under the name.
	ErrUnknownListener = NewDomainError("FV-CONF-1002", "unknown listener")
)
