package ingest

import (
	"net/http"

	"github.com/sdko-org/visitor-beacon/internal/usage"
)

const (
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidTrackingID  = "INVALID_TRACKING_ID"
	CodeProjectDisabled    = "PROJECT_DISABLED"
	CodeOriginNotAllowed   = "ORIGIN_NOT_ALLOWED"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeForbidden          = "FORBIDDEN"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// PolicyError is a rejection the caller sees as a stable code. It is never
// retried server side.
type PolicyError struct {
	Code   string
	Status int
	// Usage is set for LIMIT_EXCEEDED.
	Usage *usage.Summary
	Err   error
}

func (e *PolicyError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func policy(code string, err error) *PolicyError {
	status := http.StatusForbidden
	switch code {
	case CodeInvalidPayload:
		status = http.StatusBadRequest
	case CodeInvalidTrackingID:
		status = http.StatusNotFound
	case CodeServiceUnavailable:
		status = http.StatusServiceUnavailable
	}
	return &PolicyError{Code: code, Status: status, Err: err}
}
