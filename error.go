package bulletin

import (
	"bytes"
	"errors"
	"fmt"
)

// Error codes
const (
	ErrInvalid      = "invalid"
	ErrUnauthorized = "unauthorized"
	ErrForbidden    = "forbidden"
	ErrNotFound     = "not_found"
	ErrConflict     = "conflict"
	ErrInternal     = "internal"
)

// Newsletter errors that callers match with errors.Is.
var (
	ErrAlreadySubscribed = &Error{
		Code:    ErrConflict,
		Message: "You had been subscribed to this newsletter already.",
	}
	ErrInvalidOrExpiredToken = &Error{
		Code:    ErrInvalid,
		Message: "The confirmation link is invalid or has expired. Please subscribe again.",
	}
	ErrInvalidToken = &Error{
		Code:    ErrInvalid,
		Message: "The unsubscribe link is invalid.",
	}
	ErrNoEligibleContent = &Error{
		Code:    ErrInvalid,
		Message: "No published articles match the selection.",
	}
	ErrNoEligibleRecipients = &Error{
		Code:    ErrInvalid,
		Message: "No active subscribers match the selection.",
	}
)

// Error represents an application error
type Error struct {
	Code    string
	Message string
	Op      string
	Err     error
}

// ErrorCode returns the code of the first *Error in the chain, or ErrInternal.
func ErrorCode(err error) string {
	var e *Error
	if err == nil {
		return ""
	}
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		if e.Err != nil {
			return ErrorCode(e.Err)
		}
	}

	return ErrInternal
}

// ErrorMessage returns the human readable message of err.
// Internal errors never leak their details.
func ErrorMessage(err error) string {
	var e *Error
	if err == nil {
		return ""
	}
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return ErrorMessage(e.Err)
		}
	}

	return "An internal error has occurred."
}

// NoEligible reports whether err means a dispatch had nothing to do.
func NoEligible(err error) bool {
	return errors.Is(err, ErrNoEligibleContent) || errors.Is(err, ErrNoEligibleRecipients)
}

func (e *Error) Error() string {
	var buf bytes.Buffer

	if e.Op != "" {
		fmt.Fprintf(&buf, "%s: ", e.Op)
	}

	if e.Err != nil {
		buf.WriteString(e.Err.Error())
	} else {
		if e.Code != "" {
			fmt.Fprintf(&buf, "<%s> ", e.Code)
		}
		buf.WriteString(e.Message)
	}

	return buf.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns an *Error with the given code and a formatted message.
func Errorf(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
