package provider

import (
	"errors"
	"fmt"
)

// ServiceError indicates a transient provider failure (timeout, 5xx,
// rate limit). Callers may retry.
type ServiceError struct {
	Op     string
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: provider returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// RejectedError indicates the provider refused the input (content policy,
// malformed request). Retrying the same input will not succeed.
type RejectedError struct {
	Op     string
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: provider rejected request (%d): %s", e.Op, e.Status, e.Reason)
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
