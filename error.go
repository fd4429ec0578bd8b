package rpccore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// ErrorDetail is a single structured detail payload attached to an Error,
// carried on the wire as a serialized google.protobuf.Any.
type ErrorDetail struct {
	// TypeURL is the fully-qualified "type.googleapis.com/pkg.Type" name, as
	// it appears in the Any envelope.
	TypeURL string
	// Value is the raw serialized message bytes (the Any's "value" field).
	Value []byte
}

// Unpack deserializes the detail into target, which must be a pointer to the
// concrete proto.Message the detail's TypeURL names. It fails the way
// anypb.Any.UnmarshalTo does if TypeURL doesn't match target's message name.
func (d ErrorDetail) Unpack(target proto.Message) error {
	return (&anypb.Any{TypeUrl: d.TypeURL, Value: d.Value}).UnmarshalTo(target)
}

// Error is the single error type every protocol interceptor in this package
// produces and consumes. It distinguishes a wire-level RPC failure (Code,
// Message, Details, Metadata all come from the peer) from an underlying Go
// error (Unwrap) raised locally, e.g. a transport I/O failure or a
// marshaling bug, mirroring connect-go's Error type.
type Error struct {
	code    Code
	err     error
	details []ErrorDetail
	meta    *Headers
}

// NewError wraps err, an ordinary Go error, as an Error with the given
// Code. If err is already exactly an *Error (not merely wrapping one
// further down its chain) its code is overwritten in place and it is
// returned unchanged; a nested *Error is left untouched so that, e.g.,
// wrapping a transport error that already carries CodeCanceled with
// additional context never reclassifies it.
func NewError(code Code, err error) *Error {
	if err == nil {
		err = errors.New(code.String())
	}
	if asErr, ok := err.(*Error); ok {
		asErr.code = code
		return asErr
	}
	return &Error{code: code, err: err, meta: NewHeaders()}
}

// NewErrorf is NewError with fmt.Errorf-style formatting.
func NewErrorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	return e.code.String() + ": " + e.err.Error()
}

// Message is the human-readable error text without the code prefix.
func (e *Error) Message() string {
	return e.err.Error()
}

// Unwrap exposes the underlying Go error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Code returns the RPC status code.
func (e *Error) Code() Code { return e.code }

// Details returns the structured error details attached to this error, if
// any were sent by the peer.
func (e *Error) Details() []ErrorDetail { return e.details }

// AddDetail appends a structured detail.
func (e *Error) AddDetail(detail ErrorDetail) { e.details = append(e.details, detail) }

// Meta returns the error's own metadata headers, distinct from the
// successful-response headers/trailers of the call that produced it. Never
// nil.
func (e *Error) Meta() *Headers {
	if e.meta == nil {
		e.meta = NewHeaders()
	}
	return e.meta
}

// asError unwraps err into an *Error, if it is one or wraps one.
func asError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var asErr *Error
	ok := errors.As(err, &asErr)
	return asErr, ok
}

// wrapIfUncoded ensures err is an *Error, defaulting to CodeUnknown for a
// plain Go error that never went through NewError.
func wrapIfUncoded(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := asError(err); ok {
		return err
	}
	return NewError(CodeUnknown, err)
}

// wrapIfContextError maps ctx cancellation/deadline errors to their RPC
// equivalents, the way every protocol in this package expects a client-side
// context error to surface.
func wrapIfContextError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := asError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewError(CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeDeadlineExceeded, err)
	default:
		return err
	}
}

// wrapTransportError classifies a raw error from the Transport: a context
// cancellation/deadline is reported as such, and anything else not already
// carrying a Code is reported as CodeUnavailable, the default code for "the
// transport itself failed".
func wrapTransportError(err error) *Error {
	if err == nil {
		return nil
	}
	mapped := wrapIfContextError(err)
	if asErr, ok := asError(mapped); ok {
		return asErr
	}
	return NewError(CodeUnavailable, mapped)
}
