// Package recovery classifies failures from the Identity Center API and
// drives bounded retry loops with per-category strategies.
package recovery

import (
	"context"
	"errors"
	"net"

	"github.com/jklevins/permrevert/internal/ssoapi"
)

// ErrorType is the recovery category of a failure.
type ErrorType string

const (
	ErrTransientRemote  ErrorType = "transient_remote"
	ErrPermission       ErrorType = "permission"
	ErrResourceNotFound ErrorType = "resource_not_found"
	ErrConflict         ErrorType = "conflict"
	ErrTimeout          ErrorType = "timeout"
	ErrNetwork          ErrorType = "network"
	ErrConfiguration    ErrorType = "configuration"
	ErrUnknown          ErrorType = "unknown"
)

// errorCodes maps structured API error codes to recovery categories.
var errorCodes = map[string]ErrorType{
	"ThrottlingException":           ErrTransientRemote,
	"TooManyRequestsException":      ErrTransientRemote,
	"ServiceQuotaExceededException": ErrTransientRemote,
	"InternalServerException":       ErrTransientRemote,
	"InternalFailure":               ErrTransientRemote,
	"ServiceUnavailableException":   ErrTransientRemote,
	"AccessDenied":                  ErrPermission,
	"AccessDeniedException":         ErrPermission,
	"UnauthorizedException":         ErrPermission,
	"ResourceNotFoundException":     ErrResourceNotFound,
	"NoSuchEntity":                  ErrResourceNotFound,
	"ConflictException":             ErrConflict,
	"ResourceConflictException":     ErrConflict,
	"RequestTimeout":                ErrTimeout,
	"RequestTimeoutException":       ErrTimeout,
	"ValidationException":           ErrConfiguration,
	"InvalidParameterException":     ErrConfiguration,
	"MalformedPolicyDocument":       ErrConfiguration,
}

// Classify maps an error to its recovery category. Structured API errors
// are classified by their code; everything else falls back to the error's
// runtime category (timeouts and connection failures).
func Classify(err error) ErrorType {
	if err == nil {
		return ErrUnknown
	}

	var ae *ssoapi.APIError
	if errors.As(err, &ae) {
		if t, ok := errorCodes[ae.Code]; ok {
			return t
		}
		if ae.Retryable {
			return ErrTransientRemote
		}
		return ErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}

	return ErrUnknown
}
