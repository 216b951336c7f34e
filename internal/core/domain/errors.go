package domain

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeNotConnected       Code = "NOT_CONNECTED"
	CodeInvalidArguments   Code = "INVALID_ARGUMENT"
	CodeMissingParticipant Code = "MISSING_PARTICIPANT"
	CodeMalformedRoom      Code = "MALFORMED_ROOM"
	CodeMalformedPayload   Code = "MALFORMED_PAYLOAD"
	CodeCallInProgress     Code = "CALL_IN_PROGRESS"
	CodeNoActiveCall       Code = "NO_ACTIVE_CALL"
	CodeTimeout            Code = "TIMEOUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeStaleResult        Code = "STALE_RESULT"
	CodeEmptyMessage       Code = "EMPTY_MESSAGE"
	CodeTransport          Code = "TRANSPORT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError with the same code, so errors.Is(err, ErrNotConnected)
// holds for every not-connected error regardless of its message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArguments(msg string) error   { return New(CodeInvalidArguments, msg) }
func MissingParticipant(msg string) error { return New(CodeMissingParticipant, msg) }
func MalformedRoom(msg string) error      { return New(CodeMalformedRoom, msg) }
func NotFound(msg string) error           { return New(CodeNotFound, msg) }

func MalformedPayload(event string, cause error) error {
	return Wrap(CodeMalformedPayload, "malformed "+event+" payload", cause)
}

func Transport(msg string, cause error) error {
	return Wrap(CodeTransport, msg, cause)
}

// CodeOf extracts the code of an AppError anywhere in the chain.
func CodeOf(err error) Code {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return CodeUnknown
}

var (
	ErrNotConnected          = New(CodeNotConnected, "no live socket connection")
	ErrInvalidArguments      = New(CodeInvalidArguments, "invalid arguments")
	ErrMissingParticipant    = New(CodeMissingParticipant, "missing participant")
	ErrMalformedRoom         = New(CodeMalformedRoom, "malformed room")
	ErrMalformedPayload      = New(CodeMalformedPayload, "malformed payload")
	ErrCallAlreadyInProgress = New(CodeCallInProgress, "a call is already in progress")
	ErrNoActiveCall          = New(CodeNoActiveCall, "no active call")
	ErrTimeout               = New(CodeTimeout, "timed out")
	ErrNotFound              = New(CodeNotFound, "not found")
	ErrStaleResult           = New(CodeStaleResult, "result superseded by a newer selection")
	ErrEmptyMessage          = New(CodeEmptyMessage, "message is empty")
	ErrTransport             = New(CodeTransport, "transport failure")
	ErrUnauthenticated       = New(CodeUnauthenticated, "unauthenticated")
)
