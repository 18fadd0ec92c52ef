package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/lodgic/authd/internal/errors"
)

type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OAuthError is the RFC 6749 wire shape for protocol errors.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func Redirect(w http.ResponseWriter, status int, url string) {
	w.Header().Set("Location", url)
	w.WriteHeader(status)
}

func JSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// OAuthErrorResponse renders a protocol error in the standard OAuth
// shape. Internal faults collapse to server_error; the details stay in
// the log.
func OAuthErrorResponse(w http.ResponseWriter, err error, logger *slog.Logger) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || apperrors.IsType(err, apperrors.CodeInternalError) {
		if logger != nil {
			logger.Error("internal error during oauth request", slog.String("error", err.Error()))
		}
		JSONResponse(w, http.StatusInternalServerError, OAuthError{
			Error:            apperrors.CodeServerError,
			ErrorDescription: "an internal error occurred",
		})
		return
	}

	if logger != nil {
		logger.Warn("oauth request rejected",
			slog.String("code", appErr.Code),
			slog.String("cause", appErr.Error()))
	}

	status := appErr.HTTPCode
	if !isOAuthCode(appErr.Code) {
		// Non-protocol errors keep their status but get a generic body.
		JSONResponse(w, status, OAuthError{
			Error:            apperrors.CodeInvalidRequest,
			ErrorDescription: appErr.Message,
		})
		return
	}

	body := OAuthError{Error: appErr.Code, ErrorDescription: appErr.Message}
	if appErr.Code == apperrors.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	JSONResponse(w, status, body)
}

func isOAuthCode(code string) bool {
	switch code {
	case apperrors.CodeInvalidRequest,
		apperrors.CodeInvalidClient,
		apperrors.CodeInvalidGrant,
		apperrors.CodeAccessDenied,
		apperrors.CodeUnsupportedGrantType,
		apperrors.CodeInvalidToken,
		apperrors.CodeServerError,
		apperrors.CodeInvalidClientMetadata,
		apperrors.CodeInvalidRedirectURI:
		return true
	}
	return false
}

// ErrorResponse renders a structured error for the management API.
// Internal errors are logged in full and surfaced generically.
func ErrorResponse(w http.ResponseWriter, err error, logger *slog.Logger) {
	var appErr *apperrors.AppError

	if apperrors.IsType(err, apperrors.CodeInternalError) || !errors.As(err, &appErr) {
		if logger != nil {
			logger.Error("internal server error", slog.String("error", err.Error()))
		}
		appErr = apperrors.InternalError("an internal error occurred", err)
	} else if logger != nil {
		logger.Warn("application error",
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message))
	}

	JSONResponse(w, appErr.HTTPCode, APIResponse{
		Code:    appErr.HTTPCode,
		Status:  "error",
		Message: appErr.Message,
		Data: map[string]string{
			"error_code": appErr.Code,
		},
	})
}

// SuccessResponse renders a successful management API response.
func SuccessResponse(w http.ResponseWriter, data any) {
	JSONResponse(w, http.StatusOK, APIResponse{
		Code:   http.StatusOK,
		Status: "success",
		Data:   data,
	})
}
