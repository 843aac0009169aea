package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrNotAuthenticated   ErrCode = "NOT_AUTHENTICATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrSessionReplaced    ErrCode = "SESSION_REPLACED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrNotAttemptOwner ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam / attempt ────────────────────────────────────────────────
	ErrExamNotAvailable       ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrAttemptLimitReached    ErrCode = "ATTEMPT_LIMIT_REACHED"
	ErrEligibilityUnavailable ErrCode = "ELIGIBILITY_UNAVAILABLE"
	ErrAttemptNotActive       ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptAlreadySubmit   ErrCode = "ATTEMPT_ALREADY_SUBMITTED"
	ErrAnswerCountMismatch    ErrCode = "ANSWER_COUNT_MISMATCH"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"
	ErrSubmitFailed           ErrCode = "SUBMIT_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid email or password."
	case ErrNotAuthenticated:
		return "Please sign in to take this exam."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."
	case ErrSessionReplaced:
		return "You signed in somewhere else. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrNotAttemptOwner:
		return "This attempt belongs to another learner."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam / attempt ────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is not available."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrAttemptLimitReached:
		return "You have used all attempts for this exam."
	case ErrEligibilityUnavailable:
		return "Could not verify whether you can start this exam. Please try again."
	case ErrAttemptNotActive:
		return "This attempt is no longer in progress."
	case ErrAttemptAlreadySubmit:
		return "This attempt has already been submitted."
	case ErrAnswerCountMismatch:
		return "The number of answers does not match the exam."
	case ErrUnknownQuestion:
		return "The question does not belong to this exam."
	case ErrSubmitFailed:
		return "Your answers could not be submitted. Your progress is saved, please try again."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
