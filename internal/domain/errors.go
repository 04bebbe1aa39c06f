package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can map them to a response without string matching
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidArgument
	KindStorageUnavailable
	KindStorageOperationFailed
	KindTransactionFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindStorageOperationFailed:
		return "storage_operation_failed"
	case KindTransactionFailure:
		return "transaction_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a kind
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable}
	ErrStorageOperationFailed = &Error{Kind: KindStorageOperationFailed}
	ErrTransactionFailure     = &Error{Kind: KindTransactionFailure}
)

// Error is a kind-tagged failure. Op names the operation, Msg is a human readable detail
// and Err is the optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	// Status is the remote status code of a failed storage read, zero when unknown
	Status int
	Err    error
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
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so errors.Is(err, ErrNotFound) works
// regardless of Op and Msg
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a kind-tagged error
func E(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the remote status carried by a storage failure, if any
func StatusOf(err error) int {
	var e *Error
	for errors.As(err, &e) {
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return 0
}

func NotFound(op, format string, args ...any) *Error {
	return E(KindNotFound, op, format, args...)
}

func Forbidden(op, format string, args ...any) *Error {
	return E(KindForbidden, op, format, args...)
}

func InvalidArgument(op, format string, args ...any) *Error {
	return E(KindInvalidArgument, op, format, args...)
}

func StorageUnavailable(op, format string, args ...any) *Error {
	return E(KindStorageUnavailable, op, format, args...)
}
