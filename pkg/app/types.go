package app

import (
	"errors"
	"fmt"
)

// ErrorKind classifies redaction failures reported to callers.
type ErrorKind string

// Error kinds
const (
	KindFormat            ErrorKind = "FORMAT_ERROR"
	KindLayout            ErrorKind = "LAYOUT_ERROR"
	KindIO                ErrorKind = "IO_ERROR"
	KindUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	KindOffsetOverflow    ErrorKind = "OFFSET_OVERFLOW"
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
)

// Sentinels for errors.Is comparisons against an *Error of that kind.
var (
	ErrFormat            = &Error{Kind: KindFormat, Message: "container unreadable"}
	ErrLayout            = &Error{Kind: KindLayout, Message: "unexpected directory layout"}
	ErrIO                = &Error{Kind: KindIO, Message: "i/o failure"}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat, Message: "no handler for format"}
	ErrOffsetOverflow    = &Error{Kind: KindOffsetOverflow, Message: "offset exceeds classic TIFF range"}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// Error represents application-level errors
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a new Error
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// FormatError reports an unreadable or malformed container.
func FormatError(format string, args ...any) *Error {
	return NewError(KindFormat, fmt.Sprintf(format, args...), nil)
}

// LayoutError reports a violated vendor directory-ordering assumption.
func LayoutError(format string, args ...any) *Error {
	return NewError(KindLayout, fmt.Sprintf(format, args...), nil)
}

// IOError wraps a filesystem failure.
func IOError(message string, cause error) *Error {
	return NewError(KindIO, message, cause)
}

// UnsupportedFormatError reports that no handler matches.
func UnsupportedFormatError(format string, args ...any) *Error {
	return NewError(KindUnsupportedFormat, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
