package types

import "net/http"

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Param names the request parameter that caused the error, if any.
	Param string `json:"param,omitempty"`
}

// Error codes.
const (
	// CodeInvalidJSON indicates the request body is not valid JSON.
	CodeInvalidJSON = "invalid_json"

	// CodeInvalidValue indicates a parameter or field has an invalid value.
	CodeInvalidValue = "invalid_value"

	// CodeMissingField indicates a required field is missing.
	CodeMissingField = "missing_field"

	// CodeInvalidWindow indicates a retention window below one.
	CodeInvalidWindow = "invalid_window"

	// CodeInvalidTimestamp indicates a result timestamp outside the storable range.
	CodeInvalidTimestamp = "invalid_timestamp"

	// CodeOwnerNotFound indicates the owner does not exist.
	CodeOwnerNotFound = "owner_not_found"

	// CodeOwnerExists indicates an owner with the same key exists.
	CodeOwnerExists = "owner_exists"

	// CodeOwnerHasRecords indicates an owner still has results.
	CodeOwnerHasRecords = "owner_has_results"

	// CodeResultNotFound indicates the result does not exist.
	CodeResultNotFound = "result_not_found"

	// CodeNoResults indicates the owner has no results to delete.
	CodeNoResults = "no_results"

	// CodeRequestTooLarge indicates the request body exceeds the limit.
	CodeRequestTooLarge = "request_too_large"

	// CodeStorageError indicates the repository failed.
	CodeStorageError = "storage_error"

	// CodeInternalError indicates an unexpected server error.
	CodeInternalError = "internal_error"
)

// APIError pairs an error body with its HTTP status.
type APIError struct {
	Status int
	Body   ErrorResponse
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Body.Error.Code + ": " + e.Body.Error.Message
}

// NewAPIError creates an APIError.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{
		Status: status,
		Body:   ErrorResponse{Error: ErrorDetail{Code: code, Message: message}},
	}
}

// WithParam sets the offending parameter.
func (e *APIError) WithParam(param string) *APIError {
	e.Body.Error.Param = param
	return e
}

// NewInvalidRequestError creates a 400 error.
func NewInvalidRequestError(code, message, param string) *APIError {
	return NewAPIError(http.StatusBadRequest, code, message).WithParam(param)
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(code, message string) *APIError {
	return NewAPIError(http.StatusNotFound, code, message)
}

// NewConflictError creates a 409 error.
func NewConflictError(code, message string) *APIError {
	return NewAPIError(http.StatusConflict, code, message)
}

// NewServerError creates a 500 error. The message must not leak internals.
func NewServerError(code, message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, code, message)
}
