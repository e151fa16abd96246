package auth

import (
	"errors"
)

// Outcomes reported to callers. Match them with errors.Is; the returned
// errors may carry extra detail in their message.
var (
	ErrValidation         = errors.New("validation error")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoToken            = errors.New("no session token")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrEncoding           = errors.New("token encoding failed")
)

// Token codec failures. Service callers see them wrapped in ErrInvalidToken.
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrSignatureMismatch = errors.New("token signature mismatch")
	ErrExpired           = errors.New("token expired")
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// Error codes, in matching order: the outer service outcome wins over the
// codec detail it wraps.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrWeakPassword, "WEAK_PASSWORD"},
	{ErrDuplicateUsername, "DUPLICATE_USERNAME"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrNoToken, "NO_TOKEN"},
	{ErrInvalidToken, "INVALID_TOKEN"},
	{ErrEncoding, "ENCODING_ERROR"},
	{ErrExpired, "TOKEN_EXPIRED"},
	{ErrSignatureMismatch, "SIGNATURE_MISMATCH"},
	{ErrMalformedToken, "MALFORMED_TOKEN"},
	{ErrEmptyPassword, "EMPTY_PASSWORD"},
}

// ErrorCode returns a stable machine-readable code for err, or
// "INTERNAL_ERROR" when err is not one of the package outcomes.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}
