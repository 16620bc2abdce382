package schemas

// ErrorCode is a string type used for structured error reporting from the
// executor and the agent loop. Using a custom type ensures that only the
// predefined constants can appear where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Recoverable per-step errors (subject to the retry policy) --
	ErrCodeElementNotFound        ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeResolutionServiceError ErrorCode = "RESOLUTION_SERVICE_ERROR"

	// -- Restricted page errors (escape navigation, never retried in place) --
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// -- Fatal loop errors --
	ErrCodeDecisionServiceError ErrorCode = "DECISION_SERVICE_ERROR"
	ErrCodeUserCancelled        ErrorCode = "USER_CANCELLED"

	// -- General execution errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
)

// Retryable reports whether the retry/fallback policy may attempt the same
// action again. Everything else is either fatal or handled by a dedicated
// recovery path.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeElementNotFound, ErrCodeResolutionServiceError, ErrCodeExecutionFailure:
		return true
	default:
		return false
	}
}
