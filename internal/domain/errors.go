package domain

import (
	"errors"
	"fmt"
)

type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidArgument
	KindConflict
	KindInsufficientStock
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidArgument:
		return "invalid argument"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient stock"
	default:
		return "internal"
	}
}

// Error is the single error type returned by the ledger engines. Transport
// layers switch on Kind; Msg is safe to show to callers, Err is not.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	// ExistingID is set on Conflict errors raised by a duplicate idempotency key.
	ExistingID string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels below, so errors.Is(err, ErrNotFound)
// holds for any NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInternal          = &Error{Kind: KindInternal}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(existingID string, format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...), ExistingID: existingID}
}

func InsufficientStock(format string, args ...any) error {
	return &Error{Kind: KindInsufficientStock, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. Errors that already carry a kind pass through.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf reports the kind of err. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ConflictID returns the id of the record that caused a Conflict, if any.
func ConflictID(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindConflict {
		return de.ExistingID
	}
	return ""
}
