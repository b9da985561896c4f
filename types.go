package searchkit

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Operator represents comparison operators.
type Operator string

const (
	// OpAnd combines expressions with AND logic.
	OpAnd Operator = "and"
	// OpOr combines expressions with OR logic.
	OpOr Operator = "or"
	// OpNot negates an expression.
	OpNot Operator = "not"
	// OpEq represents equality operator.
	OpEq Operator = "eq"
	// OpNe represents not-equal operator.
	OpNe Operator = "ne"
	// OpGt represents greater-than operator.
	OpGt Operator = "gt"
	// OpGte represents greater-than-or-equal operator.
	OpGte Operator = "gte"
	// OpLt represents less-than operator.
	OpLt Operator = "lt"
	// OpLte represents less-than-or-equal operator.
	OpLte Operator = "lte"
	// OpRange represents an inclusive range check.
	OpRange Operator = "range"
	// OpExists represents field existence check.
	OpExists Operator = "exists"
	// OpIn represents membership in a value set.
	OpIn Operator = "in"
)

// ErrorCode classifies session failures.
type ErrorCode int

const (
	// ErrCodeUnknown is reported by CodeOf for errors outside the taxonomy.
	ErrCodeUnknown ErrorCode = iota + 2000

	// ErrCodeConfig is returned for missing or invalid credentials.
	ErrCodeConfig

	// ErrCodeNoSession is returned when no provider is bound in the context.
	ErrCodeNoSession

	// ErrCodeTransport is returned for network failures and timeouts.
	ErrCodeTransport

	// ErrCodeService is returned when the remote service rejects a request.
	ErrCodeService

	// ErrCodeCanceled is returned when a request is superseded or canceled.
	ErrCodeCanceled

	// ErrCodeMalformedResponse is returned when a response cannot be projected.
	ErrCodeMalformedResponse

	// ErrCodeInvalidQuery is returned when query params cannot be sent.
	ErrCodeInvalidQuery
)

// String returns the human-readable string representation of the error code.
// This implements the fmt.Stringer interface.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeConfig:
		return "invalid session config"
	case ErrCodeNoSession:
		return "no search session"
	case ErrCodeTransport:
		return "transport failure"
	case ErrCodeService:
		return "service error"
	case ErrCodeCanceled:
		return "request canceled"
	case ErrCodeMalformedResponse:
		return "malformed response"
	case ErrCodeInvalidQuery:
		return "invalid query"
	default:
		return "unknown error"
	}
}

// Retryable reports whether a user action may reasonably re-issue the query.
func (e ErrorCode) Retryable() bool {
	return e == ErrCodeTransport
}

// newErrorWithCode creates a new error with a code and message.
func newErrorWithCode(code ErrorCode, msg string) error {
	err := errors.New(msg)
	return errors.WithSecondaryError(err, errors.Newf("code: %d", int(code)))
}

// Sentinel errors. Concrete failures are marked with one of these, so
// errors.Is matches them through any amount of wrapping.
var (
	// ErrConfig is returned when the API key or URL is missing or invalid.
	ErrConfig = newErrorWithCode(ErrCodeConfig, "searchkit: invalid session config")

	// ErrNoSession is returned when a controller is used outside any provider.
	ErrNoSession = newErrorWithCode(ErrCodeNoSession, "searchkit: no search session in context")

	// ErrTransport is returned for network failures and timeouts.
	ErrTransport = newErrorWithCode(ErrCodeTransport, "searchkit: transport failure")

	// ErrService is returned when the service answers with a non-2xx status.
	ErrService = newErrorWithCode(ErrCodeService, "searchkit: service error")

	// ErrCanceled is returned when a request was canceled or superseded.
	ErrCanceled = newErrorWithCode(ErrCodeCanceled, "searchkit: request canceled")

	// ErrMalformedResponse is returned when required response fields are absent.
	ErrMalformedResponse = newErrorWithCode(ErrCodeMalformedResponse, "searchkit: malformed response")

	// ErrInvalidQuery is returned when a filter or cursor cannot be encoded
	// for the backend.
	ErrInvalidQuery = newErrorWithCode(ErrCodeInvalidQuery, "searchkit: invalid query")
)

// CodeOf returns the taxonomy code of err, or ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeUnknown
	case errors.Is(err, ErrCanceled):
		return ErrCodeCanceled
	case errors.Is(err, ErrConfig):
		return ErrCodeConfig
	case errors.Is(err, ErrNoSession):
		return ErrCodeNoSession
	case errors.Is(err, ErrService):
		return ErrCodeService
	case errors.Is(err, ErrMalformedResponse):
		return ErrCodeMalformedResponse
	case errors.Is(err, ErrInvalidQuery):
		return ErrCodeInvalidQuery
	case errors.Is(err, ErrTransport):
		return ErrCodeTransport
	default:
		return ErrCodeUnknown
	}
}

// ServiceError describes a request the remote service rejected.
type ServiceError struct {
	// StatusCode is the HTTP status returned by the service.
	StatusCode int
	// Message is the (possibly truncated) response body.
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("search service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("search service returned status %d: %s", e.StatusCode, e.Message)
}

// NewServiceError returns a ServiceError marked as ErrService.
func NewServiceError(status int, message string) error {
	return errors.Mark(&ServiceError{StatusCode: status, Message: message}, ErrService)
}

// configError marks err as ErrConfig.
func configError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfig)
}

// TransportError wraps a network failure so it matches ErrTransport.
func TransportError(err error, msg string) error {
	if err == nil {
		return errors.Mark(errors.New(msg), ErrTransport)
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTransport)
}

// InvalidQueryError reports query params a backend cannot express.
func InvalidQueryError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidQuery)
}

// MalformedResponseError wraps a decoding failure so it matches ErrMalformedResponse.
func MalformedResponseError(err error, msg string) error {
	if err == nil {
		return errors.Mark(errors.New(msg), ErrMalformedResponse)
	}
	return errors.Mark(errors.Wrap(err, msg), ErrMalformedResponse)
}
