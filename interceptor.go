package rpccore

import "context"

// UnaryRequest is the value an interceptor's request-side function mutates
// or inspects before it reaches the wire: the method being called, the
// outgoing headers, and the message to be serialized.
type UnaryRequest struct {
	Spec    MethodSpec
	Headers *Headers
	Message any
}

// UnaryResponse is the value an interceptor's response-side function
// receives on the way back from the wire, whether the call succeeded or
// failed.
type UnaryResponse struct {
	Headers  *Headers
	Trailers *Headers
	Message  any
	Err      error
	// TracingInfo is opaque, transport-supplied tracing metadata (e.g. a
	// span or trace ID carrier) propagated from the TransportUnaryResponse
	// that produced this call's result. nil unless the configured Transport
	// populates it; httpTransport never does.
	TracingInfo any
}

// UnaryRequestFunc mutates or replaces the outgoing request. Returning an
// error short-circuits the call before it reaches the transport.
type UnaryRequestFunc func(ctx context.Context, req *UnaryRequest) error

// UnaryResponseFunc mutates or replaces the incoming response, including a
// failed one (resp.Err may be non-nil).
type UnaryResponseFunc func(ctx context.Context, resp *UnaryResponse) error

// StreamRequestFunc and StreamResponseFunc are the streaming analogues of
// the unary functions above, invoked once per stream (not once per
// message): request functions fire before the first message is sent,
// response functions fire when the stream completes, just before the final
// Complete result is delivered on the StreamResult channel.
type StreamRequestFunc func(ctx context.Context, spec MethodSpec, headers *Headers) error
type StreamResponseFunc func(ctx context.Context, headers, trailers *Headers, err error) error

// StreamRequestBodyFunc is invoked once per outgoing stream message, after
// Send is called but before the message is serialized and framed, letting
// an interceptor inspect or replace it. This is the per-message
// counterpart to StreamRequestFunc, which only ever sees the stream's
// headers.
type StreamRequestBodyFunc func(ctx context.Context, spec MethodSpec, message any) (any, error)

// StreamResultFunc is invoked once per inbound StreamResult — the initial
// Headers, each Message, and the final Complete — before it reaches the
// caller's Results channel, letting an interceptor inspect or replace any
// of them. This is the per-message counterpart to StreamResponseFunc,
// which only ever sees the stream's terminal outcome.
type StreamResultFunc func(ctx context.Context, spec MethodSpec, result StreamResult) (StreamResult, error)

// Interceptor installs request- and response-side hooks around a call, at
// both the whole-call granularity (Unary*, Stream Request/Response) and,
// for streams, the per-message granularity (StreamRequestBody,
// StreamResult). Exactly one protocol interceptor (Connect/gRPC/gRPC-Web)
// is always installed nearest the transport; user interceptors wrap it.
type Interceptor interface {
	WrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc
	WrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc
	WrapStreamRequest(next StreamRequestFunc) StreamRequestFunc
	WrapStreamResponse(next StreamResponseFunc) StreamResponseFunc
	WrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc
	WrapStreamResult(next StreamResultFunc) StreamResultFunc
}

// interceptorChain composes a list of Interceptors so that request
// functions run outermost-first (the first interceptor in the list sees
// the request before any other) and response functions run
// innermost-first (the last interceptor in the list sees the response
// before any other), the same symmetric onion ordering connect-go's
// interceptor chain uses.
type interceptorChain struct {
	interceptors []Interceptor
}

func newInterceptorChain(interceptors []Interceptor) *interceptorChain {
	return &interceptorChain{interceptors: interceptors}
}

func (c *interceptorChain) wrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapUnaryRequest(next)
	}
	return next
}

func (c *interceptorChain) wrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc {
	for _, interceptor := range c.interceptors {
		next = interceptor.WrapUnaryResponse(next)
	}
	return next
}

func (c *interceptorChain) wrapStreamRequest(next StreamRequestFunc) StreamRequestFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamRequest(next)
	}
	return next
}

func (c *interceptorChain) wrapStreamResponse(next StreamResponseFunc) StreamResponseFunc {
	for _, interceptor := range c.interceptors {
		next = interceptor.WrapStreamResponse(next)
	}
	return next
}

// wrapStreamRequestBody composes the per-message outgoing hook the same way
// wrapStreamRequest composes the once-per-stream one: outermost-first, so
// the first interceptor in the list sees (and can rewrite) the message
// before any other.
func (c *interceptorChain) wrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamRequestBody(next)
	}
	return next
}

// wrapStreamResult composes the per-message incoming hook the same way
// wrapStreamResponse composes the once-per-stream one: innermost-first, so
// the last interceptor in the list sees (and can rewrite) the result
// before any other.
func (c *interceptorChain) wrapStreamResult(next StreamResultFunc) StreamResultFunc {
	for _, interceptor := range c.interceptors {
		next = interceptor.WrapStreamResult(next)
	}
	return next
}

// UnaryInterceptorFunc adapts a single function into an Interceptor that
// only touches the unary request path, leaving responses and streaming
// untouched. Convenient for simple cases like attaching an auth header.
type UnaryInterceptorFunc func(ctx context.Context, req *UnaryRequest) error

func (f UnaryInterceptorFunc) WrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc {
	return func(ctx context.Context, req *UnaryRequest) error {
		if err := f(ctx, req); err != nil {
			return err
		}
		return next(ctx, req)
	}
}

func (UnaryInterceptorFunc) WrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc {
	return next
}

func (UnaryInterceptorFunc) WrapStreamRequest(next StreamRequestFunc) StreamRequestFunc {
	return next
}

func (UnaryInterceptorFunc) WrapStreamResponse(next StreamResponseFunc) StreamResponseFunc {
	return next
}

func (UnaryInterceptorFunc) WrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc {
	return next
}

func (UnaryInterceptorFunc) WrapStreamResult(next StreamResultFunc) StreamResultFunc {
	return next
}
