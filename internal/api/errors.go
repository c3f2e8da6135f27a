package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/pkg/types"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeUnknownType        Code = "UNKNOWN_TYPE"
	CodeRunInProgress      Code = "RUN_IN_PROGRESS"
	CodeRunNotFound        Code = "RUN_NOT_FOUND"
	CodeInvalidSearch      Code = "INVALID_SEARCH"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Error is a structured API error. The cause is logged, never serialized.
type Error struct {
	code    Code
	message string
	status  int
	cause   error
}

func newError(code Code, status int, message string, cause error) *Error {
	return &Error{code: code, message: message, status: status, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrorResponse is the wire format of an error.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: e.code, Message: e.message}}
}

func invalidRequestBody(cause error) *Error {
	return newError(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body", cause)
}

// fromError maps domain errors to API errors.
func fromError(err error) *Error {
	switch {
	case errors.Is(err, types.ErrRunInProgress):
		return newError(CodeRunInProgress, http.StatusConflict, err.Error(), err)
	case errors.Is(err, runs.ErrRunNotFound):
		return newError(CodeRunNotFound, http.StatusNotFound, "Run not found", err)
	case errors.Is(err, types.ErrUnknownType):
		return newError(CodeUnknownType, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, types.ErrInvalidConfig):
		return newError(CodeInvalidConfig, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, searcher.ErrInvalidRequest):
		return newError(CodeInvalidSearch, http.StatusBadRequest, err.Error(), err)
	default:
		return newError(CodeInternalError, http.StatusInternalServerError, "Internal server error", err)
	}
}
