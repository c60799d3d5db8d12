package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies broker failures for the orchestrator.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindRejected    ErrorKind = "rejected"
	KindAuthExpired ErrorKind = "auth_expired"
	KindNotFound    ErrorKind = "not_found"
	KindFatal       ErrorKind = "fatal"
)

// Error is a typed broker failure carrying the HTTP status and response body
// when available.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("broker: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("broker: %s: %s", e.Kind, e.Message)
}

// NewError builds a typed broker error.
func NewError(kind ErrorKind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

func isKind(err error, kind ErrorKind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsRejected reports a broker-side refusal of a placement.
func IsRejected(err error) bool { return isKind(err, KindRejected) }

// IsAuthExpired reports an expired or invalid session token.
func IsAuthExpired(err error) bool { return isKind(err, KindAuthExpired) }

// IsNotFound reports an unknown order or instrument.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsFatal reports an unrecoverable broker failure.
func IsFatal(err error) bool { return isKind(err, KindFatal) }

// kindFromStatus maps an HTTP status to an error kind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthExpired
	case status == 404:
		return KindNotFound
	case status == 429 || status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}
