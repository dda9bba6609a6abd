package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("invalid %s: %s", field, message)).
		WithContext("field", field)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeConfig, message).
		WithContext("config_key", key)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDatabase, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// NewCredentialError reports that no access token could be resolved for an instance.
func NewCredentialError(instance string) *AppError {
	return New(ErrCodeCredentialMissing, "no access token configured").
		WithContext("instance", instance)
}

// NewProviderError creates an error for a failed provider REST call. Server side
// failures, throttling and request timeouts are retryable.
func NewProviderError(provider, endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout

	appErr := Wrap(err, ErrCodeProvider, fmt.Sprintf("%s API call failed", provider)).
		WithContext("provider", provider).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.Retryable = retryable
	return appErr
}

// NewTransportError classifies a provider transport failure. Timeouts get their own code.
func NewTransportError(provider, endpoint string, err error) *AppError {
	code := ErrCodeProvider
	if isTimeout(err) {
		code = ErrCodeProviderTimeout
	}
	return WrapRetryable(err, code, fmt.Sprintf("%s request failed", provider)).
		WithContext("provider", provider).
		WithContext("endpoint", endpoint)
}

// NewNotImplementedError marks an operation a provider variant does not support.
func NewNotImplementedError(provider, operation string) *AppError {
	return New(ErrCodeNotImplemented, fmt.Sprintf("%s: %s not yet implemented", provider, operation)).
		WithContext("provider", provider).
		WithContext("operation", operation)
}

// NewStorageError creates a blob storage error
func NewStorageError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStorage, fmt.Sprintf("storage %s failed", operation)).
		WithContext("operation", operation)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidation, ErrCodePayload, ErrCodeInvalidNumber:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeCredentialMissing, ErrCodeConfig:
		return http.StatusPreconditionFailed
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeProviderTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeProvider:
		return http.StatusBadGateway
	case ErrCodeDatabase, ErrCodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API calls.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternal
		response.Error.Message = "an internal error occurred"
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = appErr.Message
	publicContext := make(map[string]interface{})
	for k, v := range appErr.Context {
		if k != "token" && k != "secret" && k != "api_key" {
			publicContext[k] = v
		}
	}
	if len(publicContext) > 0 {
		response.Error.Context = publicContext
	}
	return response
}
