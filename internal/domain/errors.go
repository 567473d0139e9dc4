package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by the subsystem that owns them.
type ErrorKind string

const (
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindCapture     ErrorKind = "capture"
	ErrorKindEnumeration ErrorKind = "enumeration"
	ErrorKindProtocol    ErrorKind = "protocol"
	ErrorKindBackend     ErrorKind = "backend"
)

// Error is a classified failure. Err may be nil for errors that originate here.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrMissingSources   = Errorf(ErrorKindValidation, "audio and video sources must be selected")
	ErrCaptureActive    = Errorf(ErrorKindCapture, "capture is already in progress")
	ErrNoSupportedCodec = Errorf(ErrorKindCapture, "no supported encoding format")
	ErrNotConnected     = Errorf(ErrorKindConnection, "cannot send, connection is not open")
)
