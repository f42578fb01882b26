package core

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError represents an authentication error with additional context
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new authentication error
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidSession   = "INVALID_SESSION"
	ErrCodeInvalidSessionID = "AUTH_INVALID_SESSION_ID"
	ErrCodeInvalidUserID    = "AUTH_INVALID_USER_ID"
	ErrCodeInvalidKeyID     = "AUTH_INVALID_KEY_ID"
	ErrCodeInvalidPassword  = "AUTH_INVALID_PASSWORD"
	ErrCodeDuplicateKeyID   = "AUTH_DUPLICATE_KEY_ID"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
)

// Engine errors
var (
	ErrInvalidSession     = NewAuthError(ErrCodeInvalidSession, "invalid session", nil)
	ErrInvalidSessionID   = NewAuthError(ErrCodeInvalidSessionID, "invalid session id", nil)
	ErrInvalidUserID      = NewAuthError(ErrCodeInvalidUserID, "invalid user id", nil)
	ErrInvalidKeyID       = NewAuthError(ErrCodeInvalidKeyID, "invalid key id", nil)
	ErrInvalidKeyPassword = NewAuthError(ErrCodeInvalidPassword, "invalid key password", nil)
	ErrDuplicateKeyID     = NewAuthError(ErrCodeDuplicateKeyID, "duplicate key id", nil)
)

// ErrorCode returns the code of the first AuthError in err's chain
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ErrCodeInternalServer
}

// StatusCode maps an error to the HTTP status an integration should answer with
func StatusCode(err error) int {
	switch ErrorCode(err) {
	case ErrCodeInvalidSession, ErrCodeInvalidSessionID, ErrCodeInvalidKeyID, ErrCodeInvalidPassword:
		return http.StatusUnauthorized
	case ErrCodeInvalidUserID:
		return http.StatusNotFound
	case ErrCodeDuplicateKeyID:
		return http.StatusConflict
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
