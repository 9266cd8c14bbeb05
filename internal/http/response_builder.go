// Package http serves the JSON API over the ledger.
//
// This file implements the builder used for every JSON response and the
// single mapping from domain errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"jizhang/internal/core"
)

// Error codes carried in error bodies
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal_error"
	CodeMethod      = "method_not_allowed"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal_error","message":"encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Field   string       `json:"field,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
	Valid   []string     `json:"valid,omitempty"`
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, detail ErrorDetail) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(ErrorBody{Error: detail})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, ErrorDetail{Code: CodeValidation, Message: message})
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, ErrorDetail{Code: CodeNotFound, Message: message})
}

// ErrorFor maps err to its response. Validation problems are 400, unknown
// ids 404, storage that stayed busy 503 and everything else 500 without
// leaking the cause.
func ErrorFor(err error) *JSONResponseBuilder {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		detail := ErrorDetail{Code: CodeValidation, Message: "request failed validation"}
		for _, fe := range fieldErrs {
			detail.Fields = append(detail.Fields, FieldError{Field: fe.Field(), Rule: fieldRule(fe)})
		}
		return ErrorResponse(http.StatusBadRequest, detail)
	}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ErrorResponse(http.StatusBadRequest, ErrorDetail{
			Code:    CodeValidation,
			Message: ve.Err.Error(),
			Field:   ve.Field,
		})
	}

	var bad *badRequest
	if errors.As(err, &bad) {
		return BadRequestError(bad.Error())
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrTransient):
		return ErrorResponse(http.StatusServiceUnavailable, ErrorDetail{
			Code:    CodeUnavailable,
			Message: "ledger is busy, try again",
		}).Header("Retry-After", "1")
	default:
		return ErrorResponse(http.StatusInternalServerError, ErrorDetail{
			Code:    CodeInternal,
			Message: "internal error",
		})
	}
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, ErrorDetail{Code: CodeMethod, Message: "method not allowed"}).
		Header("Allow", allowedMethods)
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
