package assignments

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateGrant     = errors.New("active assignment already exists for user, role and scope")
	ErrInvalidCode        = errors.New("invalid or consumed code")
	ErrValidation         = errors.New("validation error")
	ErrBusinessRule       = errors.New("business rule violation")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrVerificationFailed = errors.New("verification failed")
)

// Error codes used in API bodies and batch results
const (
	CodeNotFound           = "NOT_FOUND"
	CodeDuplicateGrant     = "DUPLICATE_GRANT"
	CodeInvalidCode        = "INVALID_CODE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeBusinessRule       = "BUSINESS_RULE_VIOLATION"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeInternal           = "INTERNAL"
)

// Code maps err to its stable error code
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVerificationFailed):
		return CodeVerificationFailed
	case errors.Is(err, ErrDuplicateGrant):
		return CodeDuplicateGrant
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrBusinessRule):
		return CodeBusinessRule
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	default:
		return CodeInternal
	}
}
