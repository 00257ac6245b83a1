package services

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest means the caller's input failed validation. No
// transaction is created for these.
var ErrInvalidRequest = errors.New("invalid request")

// ErrGatewayUnavailable means the gateway could not be reached or timed out.
// The attempt is marked Failed and the caller may retry with a new request.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayRejectedError means the gateway answered and refused the push.
// Not retryable without fixing the underlying cause.
type GatewayRejectedError struct {
	Code        string
	Description string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (code %s)", e.Description, e.Code)
}

func invalidRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidRequest}, args...)...)
}
