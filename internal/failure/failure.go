package failure

import (
	"fmt"

	"github.com/pkg/errors"
)

// A Kind classifies an Error.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindIncomplete
	KindStorage
	KindIO
	KindCorruption
)

var kindnames = map[Kind]string{
	KindUnknown:    "unknown",
	KindValidation: "validation",
	KindNotFound:   "not_found",
	KindIncomplete: "incomplete_upload",
	KindStorage:    "storage",
	KindIO:         "io",
	KindCorruption: "corruption_detected",
}

func (k Kind) String() string {
	if s, ok := kindnames[k]; ok {
		return s
	}
	return kindnames[KindUnknown]
}

// An Error is a domain error carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error stringifies the error.
func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.cause)
}

// Cause returns the underlying error, if any.
func (e *Error) Cause() error {
	return e.cause
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Validation returns a bad input error.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a missing object/path/code error.
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Incomplete returns an error for an assembly attempted before all chunks are present.
func Incomplete(format string, args ...interface{}) error {
	return &Error{Kind: KindIncomplete, Message: fmt.Sprintf(format, args...)}
}

// Corruption returns a digest mismatch error.
func Corruption(format string, args ...interface{}) error {
	return &Error{Kind: KindCorruption, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a disk failure.
func Storage(err error, message string) error {
	return &Error{Kind: KindStorage, Message: message, cause: err}
}

// IO wraps a stream read failure.
func IO(err error, message string) error {
	return &Error{Kind: KindIO, Message: message, cause: err}
}

// KindOf returns the Kind of the first Error found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains an Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable message of the first Error found in err's chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
