package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewInvalidEnvelopeError reports a webhook body that is not a usable provider event.
func NewInvalidEnvelopeError(reason string, cause error) *AppError {
	return Wrap(cause, ErrCodeValidationFailed, "invalid webhook envelope").
		WithContext("reason", reason).
		WithUserMessage("Invalid message structure")
}

// NewUnknownTenantError reports a phone number id that is not registered
func NewUnknownTenantError(phoneNumberID string) *AppError {
	return New(ErrCodeUnknownTenant, "phone number id is not registered").
		WithContext("phone_number_id", phoneNumberID).
		WithUserMessage("Unknown phone_number_id")
}

// NewNormalizationError reports a message whose fields could not be normalized.
// It is acknowledged to the provider and never surfaced as a failure.
func NewNormalizationError(messageID, field string, cause error) *AppError {
	return Wrap(cause, ErrCodeNormalization, fmt.Sprintf("cannot normalize %s", field)).
		WithContext("message_id", messageID).
		WithContext("field", field)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an error for a failed WhatsApp Cloud API call.
// A zero statusCode means the request never got a response.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeWhatsAppAPI, "whatsapp API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("Failed to reach WhatsApp")

	appErr.Retryable = statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408
	return appErr
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit float64, burst int) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("burst", burst).
		WithUserMessage("Too many requests, please try again later")
}

// NewMediaError creates a media fetch or storage error
func NewMediaError(operation, mediaID string, err error) *AppError {
	return Wrap(err, ErrCodeMediaDownload, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("media_id", mediaID).
		WithUserMessage("Media processing failed")
}

// HTTP helpers

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeUnknownTenant, ErrCodeNormalization:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusForbidden
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeWhatsAppAPI, ErrCodeMediaDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed requests
type HTTPErrorResponse struct {
	Status string `json:"status"`
	Error  struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

var sensitiveContextKeys = map[string]bool{
	"password":     true,
	"token":        true,
	"secret":       true,
	"access_token": true,
	"value":        true,
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		Status:    "error",
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	publicContext := make(map[string]interface{})
	for k, v := range appErr.Context {
		if !sensitiveContextKeys[k] {
			publicContext[k] = v
		}
	}
	if len(publicContext) > 0 {
		response.Error.Context = publicContext
	}
	return response
}
