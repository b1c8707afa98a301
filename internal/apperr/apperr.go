// Package apperr classifies failures into the taxonomy the HTTP surface
// maps to response codes: ClientError, BrokerRefusal, Transport,
// StoreUnavailable, Conflict, Internal.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the categories in the error taxonomy.
type Kind string

const (
	KindClient         Kind = "client_error"
	KindBrokerRefusal  Kind = "broker_refusal"
	KindTransport      Kind = "transport"
	KindStoreUnavailable Kind = "store_unavailable"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Error wraps an underlying cause with a Kind the HTTP surface can map
// to a status code, and (for BrokerRefusal) the broker-reported detail.
type Error struct {
	Kind    Kind
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

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Client(format string, args ...interface{}) *Error {
	return New(KindClient, fmt.Sprintf(format, args...), nil)
}

func BrokerRefusal(message string, cause error) *Error {
	return New(KindBrokerRefusal, message, cause)
}

func Transport(message string, cause error) *Error {
	return New(KindTransport, message, cause)
}

func StoreUnavailable(message string, cause error) *Error {
	return New(KindStoreUnavailable, message, cause)
}

func Conflict(message string, cause error) *Error {
	return New(KindConflict, message, cause)
}

func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// ErrNotFound is a StoreUnavailable-adjacent sentinel used by the store for
// lookups that find no row; the HTTP surface treats it as a 404, distinct
// from the 5xx kinds above.
var ErrNotFound = errors.New("apperr: not found")

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
