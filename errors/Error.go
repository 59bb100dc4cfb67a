package errors

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Error is the error type returned throughout the module. It carries a numeric code, an
// optional wrapped cause and, for errors caused by a remote node, the peer address.
type Error struct {
	code       ERR
	message    string
	peer       string
	wrappedErr error
}

type Interface interface {
	Error() string
	Is(target error) bool
	As(target interface{}) bool
	Unwrap() error

	Code() ERR
	Message() string
	Peer() string
	WrappedErr() error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var sb strings.Builder

	sb.WriteString(e.code.String())
	sb.WriteString(" (")
	sb.WriteString(fmt.Sprint(int32(e.code)))
	sb.WriteString("): ")
	sb.WriteString(e.message)

	if e.peer != "" {
		sb.WriteString(" [peer ")
		sb.WriteString(e.peer)
		sb.WriteString("]")
	}

	if e.wrappedErr != nil {
		sb.WriteString(" -> ")
		sb.WriteString(e.wrappedErr.Error())
	}

	return sb.String()
}

// Is reports whether target carries the same code as e or any *Error e wraps. Foreign
// errors match on their message.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	targetError, ok := target.(*Error)
	if !ok {
		return strings.Contains(e.Error(), target.Error())
	}

	if targetError == nil {
		return false
	}

	for current := e; current != nil; {
		if current.code == targetError.code {
			return true
		}

		next, ok := current.wrappedErr.(*Error)
		if !ok {
			return false
		}

		current = next
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.wrappedErr == nil {
		return false
	}

	// errors.As panics on a typed nil pointer held in an interface
	if v := reflect.ValueOf(e.wrappedErr); v.Kind() == reflect.Ptr && v.IsNil() {
		return false
	}

	return errors.As(e.wrappedErr, target)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

// Peer returns the address of the peer that caused the error, or the peer of the first
// wrapped error that has one.
func (e *Error) Peer() string {
	for current := e; current != nil; {
		if current.peer != "" {
			return current.peer
		}

		next, ok := current.wrappedErr.(*Error)
		if !ok {
			return ""
		}

		current = next
	}

	return ""
}

func (e *Error) WrappedErr() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

// New creates an Error with the given code. When the last param is an error it becomes the
// wrapped cause, the remaining params format the message.
func New(code ERR, message string, params ...interface{}) *Error {
	var cause error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			cause = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, ok := ERR_name[int32(code)]; !ok {
		message = "invalid error code"
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: cause,
	}
}

// WithPeer tags err with the address of the peer that caused it. Errors that are not an
// *Error are wrapped in a network error first.
func WithPeer(err error, peer string) error {
	if err == nil {
		return nil
	}

	var tErr *Error
	if !errors.As(err, &tErr) {
		tErr = New(ERR_NETWORK_ERROR, "peer error", err)
	} else if err != error(tErr) {
		tErr = New(tErr.code, tErr.message, err)
	} else {
		copied := *tErr
		tErr = &copied
	}

	tErr.peer = peer

	return tErr
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
