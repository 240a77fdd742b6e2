package errors

// ErrorCode represents a machine-readable error identifier returned to
// admission-facade callers.
type ErrorCode string

// Validation errors (request input validation)
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
)

// Resource/state errors
const (
	ErrCodePaymentNotFound ErrorCode = "payment_not_found"
)

// External service errors
const (
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeProviderUnavailable, ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount:
		return 400

	// Refunding an unknown payment id reads as an authorization failure,
	// not a lookup miss: the response must not disclose whether the id
	// exists under another user.
	case ErrCodePaymentNotFound:
		return 401

	default:
		return 500
	}
}
