package models

import "errors"

// Sentinel errors for common failure conditions. Services construct these at
// the failure site; handlers map them to HTTP status codes with errors.Is, so
// the catch side never inspects error shapes.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountLocked   = errors.New("account is temporarily locked")
	ErrAccountInactive = errors.New("account is inactive")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// Password lifecycle errors
	ErrPasswordReused         = errors.New("password was used recently")
	ErrPasswordExpired        = errors.New("password expired")
	ErrPasswordChangeRequired = errors.New("password change required")
	ErrInvalidResetToken      = errors.New("invalid or expired reset token")
)

// ValidationError carries the first violated rule for caller-supplied input.
// The message is safe to show to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
