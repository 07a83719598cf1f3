package login

import (
	"errors"
	"fmt"
)

// Kind classifies login failures so callers can branch without matching
// messages.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindCredentialMismatch
	KindAccountLocked
	KindAccountDisabled
	KindAccountNotActivated
	KindForbidden
	KindTokenNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindCredentialMismatch:
		return "credential_mismatch"
	case KindAccountLocked:
		return "account_locked"
	case KindAccountDisabled:
		return "account_disabled"
	case KindAccountNotActivated:
		return "account_not_activated"
	case KindForbidden:
		return "forbidden"
	case KindTokenNotFound:
		return "token_not_found"
	default:
		return "internal"
	}
}

// Code is the stable numeric value sent to clients with a login failure.
type Code int8

const (
	CodeNone         Code = 0
	CodeMismatch     Code = 1
	CodeLocked       Code = 2
	CodeDisabled     Code = 3
	CodeNotActivated Code = 4
)

// Outward messages.
const (
	msgMismatch     = "account or password is incorrect"
	msgWarning      = "account %s entered a wrong password %d time(s)"
	msgJustLocked   = "account %s has been temporarily locked after repeated failures"
	msgLocked       = "account %s has too many recent attempts, try again in %d minutes"
	msgDisabled     = "account %s is disabled"
	msgNotActivated = "account %s is not activated yet"
	msgForbidden    = "permission denied"
)

// Error is returned by every Service operation that can fail for a reason
// the client should see. Err holds the internal cause and is never sent out.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

func forbidden(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: msgForbidden, Err: err}
}
