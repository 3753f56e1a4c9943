package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrCandidateOnly    ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrInvalidEntryCode ErrCode = "INVALID_ENTRY_CODE"
	ErrNotEnrolled      ErrCode = "NOT_ENROLLED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrInvalidState        ErrCode = "INVALID_STATE"
	ErrSectionLocked       ErrCode = "SECTION_LOCKED"
	ErrSectionUnresolvable ErrCode = "SECTION_UNRESOLVABLE"
	ErrInvalidNavigation   ErrCode = "INVALID_NAVIGATION"
	ErrTestNotReady        ErrCode = "TEST_NOT_READY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have access to this resource."
	case ErrCandidateOnly:
		return "This resource is restricted to candidates."
	case ErrInvalidEntryCode:
		return "The entry code is not valid for this test."
	case ErrNotEnrolled:
		return "You are not enrolled for this test."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "The resource was modified concurrently. Please retry."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrInvalidState:
		return "This operation is not allowed in the attempt's current state."
	case ErrSectionLocked:
		return "This section is locked."
	case ErrSectionUnresolvable:
		return "The question does not belong to any section of this test."
	case ErrInvalidNavigation:
		return "That navigation is not allowed."
	case ErrTestNotReady:
		return "This test is not available."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
