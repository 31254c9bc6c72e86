package ssoapi

import "fmt"

// APIError is the tagged error surfaced by AdminClient implementations.
// Code carries the structured error code from the remote service
// (e.g. "AccessDeniedException", "ThrottlingException"); Retryable is the
// service's own hint, recorded for diagnostics.
type APIError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
