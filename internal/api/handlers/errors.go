package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodePolicyViolation    = "POLICY_VIOLATION"
)

// ErrorResponse is the JSON error envelope returned by all handlers.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Code: code, Message: message})
}

// respondDomainError maps a domain error to its HTTP representation.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case domainerrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case domainerrors.IsAlreadyExists(err):
		respondError(c, http.StatusConflict, ErrCodeAlreadyExists, err.Error())
	case domainerrors.IsConflict(err):
		respondError(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case domainerrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())
	case domainerrors.IsPolicyViolation(err):
		respondError(c, http.StatusUnprocessableEntity, ErrCodePolicyViolation, err.Error())
	case domainerrors.IsRetryable(err):
		respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "service temporarily unavailable")
	default:
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
