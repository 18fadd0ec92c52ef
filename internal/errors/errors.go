package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents a structured application error with context
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	HTTPCode int    `json:"-"`
	Cause    error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Application error codes
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeConfigError      = "CONFIG_ERROR"
	CodeDecryptionError  = "DECRYPTION_ERROR"

	// OAuth 2.0 error codes (RFC 6749)
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeAccessDenied         = "access_denied"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidToken         = "invalid_token"
	CodeServerError          = "server_error"

	// Dynamic registration error codes (RFC 7591)
	CodeInvalidClientMetadata = "invalid_client_metadata"
	CodeInvalidRedirectURI    = "invalid_redirect_uri"
)

func ValidationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeValidationFailed,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func NotFoundError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeNotFound,
		Message:  message,
		HTTPCode: http.StatusNotFound,
		Cause:    cause,
	}
}

func UnauthorizedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeUnauthorized,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InternalError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInternalError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDatabaseError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// ConfigurationError marks a missing or malformed server-side setting,
// e.g. no signing key configured for the token service.
func ConfigurationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeConfigError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// DecryptionError distinguishes a corrupted or wrongly keyed vault entry
// from an entry that simply does not exist.
func DecryptionError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDecryptionError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func InvalidRequestError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidRequest,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func InvalidClientError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidClient,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InvalidGrantError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidGrant,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func AccessDeniedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeAccessDenied,
		Message:  message,
		HTTPCode: http.StatusForbidden,
		Cause:    cause,
	}
}

func UnsupportedGrantTypeError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeUnsupportedGrantType,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func InvalidTokenError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidToken,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InvalidClientMetadataError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidClientMetadata,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func InvalidRedirectURIError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidRedirectURI,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

// IsType checks if an error carries a specific application error code
func IsType(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetHTTPCode extracts the HTTP status code from an error
func GetHTTPCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}
