package weberror

import (
	"fmt"
	"net/http"

	"github.com/mdouchement/fileshare/internal/failure"
)

type (
	// HTTPCoder interface is implemented by application errors.
	HTTPCoder interface {
		// HTTPCode return the HTTP status code for the given error.
		HTTPCode() int
	}

	// Error is an error rendered as JSON by the HTTP error handler.
	Error struct {
		Code    int
		Kind    string
		Message string
		Extra   map[string]interface{}
	}
)

// StatusCode the know HHTP status for the given err. If unknown, it returns 500.
func StatusCode(err error) int {
	if hc, ok := err.(HTTPCoder); ok {
		return hc.HTTPCode()
	}
	return http.StatusInternalServerError
}

// New returns a new Error.
func New(code int, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// From converts a domain error into an Error with the matching HTTP status.
func From(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}

	kind := failure.KindOf(err)
	e := &Error{
		Code:    Status(kind),
		Kind:    kind.String(),
		Message: failure.Message(err),
	}
	if kind == failure.KindUnknown {
		e.Kind = ""
		e.Message = err.Error()
	}
	return e
}

// Status returns the HTTP status of a failure kind.
func Status(kind failure.Kind) int {
	switch kind {
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindIncomplete:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error stringifies the error.
func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// HTTPCode returns the HTTP status code.
func (e *Error) HTTPCode() int {
	return e.Code
}

// Payload returns the rendered form of the error.
func (e *Error) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"success": false,
		"message": e.Message,
	}
	if e.Kind != "" {
		payload["error"] = e.Kind
	}
	for k, v := range e.Extra {
		payload[k] = v
	}
	return payload
}
