// Package apperr defines the error taxonomy shared by the dashboard core.
// Every failure is caught where it happens and turned into a notice; these
// values are what callers get back instead of a panic.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuth             Kind = "auth"
	KindData             Kind = "data"
	KindPermissionDenied Kind = "permission_denied"
)

// ErrPermissionDenied is returned by the capability gate before any network
// call is made.
var ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Message: "permission denied"}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors (no Op) by kind, so
// errors.Is(err, ErrPermissionDenied) holds for any denial.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: Detail(err), Err: err}
}

func Data(op string, err error) *Error {
	return &Error{Kind: KindData, Op: op, Message: Detail(err), Err: err}
}

func Denied(action string) *Error {
	return &Error{Kind: KindPermissionDenied, Op: action, Message: "permission denied"}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

// Detail returns the human-readable message a backend attached to err,
// falling back to a generic text.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if errors.As(err, &target) {
		if target.Message != "" {
			return target.Message
		}
		if target.Err != nil {
			return Detail(target.Err)
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
