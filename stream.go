package rpccore

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// StreamState is a stream's position in its half-close lifecycle. A stream
// starts Open; either side half-closing its own direction moves it to the
// matching HalfClosed* state, and both sides half-closed (or an error, or
// cancellation) moves it to Closed.
type StreamState uint8

const (
	StreamOpen StreamState = iota
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half_closed_local"
	case StreamHalfClosedRemote:
		return "half_closed_remote"
	case StreamClosed:
		return "closed"
	default:
		return "unknown_stream_state"
	}
}

// StreamResultKind tags which field of a StreamResult is populated.
type StreamResultKind uint8

const (
	StreamResultHeaders StreamResultKind = iota
	StreamResultMessage
	StreamResultComplete
)

// StreamResult is the tagged union of everything a receive loop can
// observe on an inbound stream: the response headers (always delivered
// first, exactly once), zero or more messages, and finally a Complete
// result carrying the response trailers and a non-nil Err if the stream
// ended in failure.
type StreamResult struct {
	Kind     StreamResultKind
	Headers  *Headers
	Message  any
	Trailers *Headers
	Err      error
	// TracingInfo is opaque, transport-supplied tracing metadata carried
	// alongside a Complete result, mirroring UnaryResponse.TracingInfo. nil
	// unless the configured Transport populates it.
	TracingInfo any
}

// ClientStream is a single open RPC stream driven by this package's state
// machine. Send/CloseSend push outgoing messages; Results is a
// single-producer/single-consumer channel of StreamResult delivered in
// order (Headers once, then Messages, then exactly one Complete) until the
// stream closes, at which point Results itself is closed.
type ClientStream struct {
	cfg  *ProtocolClientConfig
	spec MethodSpec
	ctx  context.Context

	transportStream TransportStream
	writer          *envelopeWriter
	reader          *envelopeReader
	newMessage      func() any

	// reqBodyFn and resultFn are the interceptor chain's per-message hooks,
	// built once at stream creation so every Send and every inbound
	// StreamResult runs through the full chain exactly once each.
	reqBodyFn StreamRequestBodyFunc
	resultFn  StreamResultFunc

	results chan StreamResult

	mu    sync.Mutex
	state StreamState

	cancel context.CancelFunc
}

func identityStreamRequestBody(_ context.Context, _ MethodSpec, message any) (any, error) {
	return message, nil
}

func identityStreamResult(_ context.Context, _ MethodSpec, result StreamResult) (StreamResult, error) {
	return result, nil
}

// resultChannelCapacity bounds how far a fast sender's receive loop can run
// ahead of a slow consumer before backpressuring the transport read.
const resultChannelCapacity = 8

// NewClientStream opens a stream for spec against the configured
// Transport, running the full interceptor chain's stream-request hooks
// before any bytes are sent. newResponseMessage must return a fresh,
// zero-value pointer of the response type each time it is called; the
// receive loop uses it once per inbound message to give the codec
// something to deserialize into.
func (c *ProtocolClient) NewClientStream(ctx context.Context, spec MethodSpec, newResponseMessage func() any) (*ClientStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	chain := newInterceptorChain(append(append([]Interceptor{}, c.cfg.Interceptors...), newProtocolInterceptor(c.cfg, spec)))
	headers := NewHeaders()
	requestFn := chain.wrapStreamRequest(func(context.Context, MethodSpec, *Headers) error { return nil })
	if err := requestFn(ctx, spec, headers); err != nil {
		cancel()
		return nil, wrapIfUncoded(err)
	}

	url := assembleURL(c.cfg.BaseURL, spec.Path)
	transportStream, err := c.cfg.Transport.NewStream(ctx, &TransportRequest{Method: "POST", URL: url, Headers: headers})
	if err != nil {
		cancel()
		return nil, wrapTransportError(errors.Wrap(err, "open stream"))
	}

	stream := &ClientStream{
		cfg:             c.cfg,
		spec:            spec,
		ctx:             ctx,
		transportStream: transportStream,
		writer:          &envelopeWriter{codec: c.cfg.codec(), pool: c.cfg.sendCompression(), compressMinBytes: c.cfg.CompressMinBytes},
		newMessage:      newResponseMessage,
		reqBodyFn:       chain.wrapStreamRequestBody(identityStreamRequestBody),
		resultFn:        chain.wrapStreamResult(identityStreamResult),
		results:         make(chan StreamResult, resultChannelCapacity),
		state:           StreamOpen,
		cancel:          cancel,
	}
	go stream.receiveLoop(ctx, chain)
	return stream, nil
}

// Results returns the channel of inbound StreamResults. It is closed once
// the stream reaches StreamClosed.
func (s *ClientStream) Results() <-chan StreamResult { return s.results }

// Send serializes and frames message, then writes it to the transport.
// Calling Send after CloseSend or on a closed stream returns an error.
func (s *ClientStream) Send(message any) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StreamHalfClosedLocal || state == StreamClosed {
		return NewErrorf(CodeFailedPrecondition, "send on a stream that already half-closed its send side")
	}
	message, err := s.reqBodyFn(s.ctx, s.spec, message)
	if err != nil {
		return wrapIfUncoded(err)
	}
	frame, err := s.writer.marshal(message)
	if err != nil {
		return NewErrorf(CodeInternal, "marshal stream message: %v", err)
	}
	if err := s.transportStream.Send(frame); err != nil {
		return wrapTransportError(errors.Wrap(err, "send stream frame"))
	}
	return nil
}

// CloseSend half-closes the send direction, signaling no more messages will
// be sent. It is idempotent.
func (s *ClientStream) CloseSend() error {
	s.mu.Lock()
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
	}
	s.mu.Unlock()
	return s.transportStream.CloseSend()
}

// Cancel aborts the stream immediately, unblocking the receive loop and
// causing the transport's context to be cancelled. After Cancel, Results
// will deliver a final Complete result carrying a CodeCanceled error (or
// close with no further results, if it already closed).
func (s *ClientStream) Cancel() {
	s.cancel()
}

// ReceiveClose is the caller-initiated equivalent of Cancel: it aborts the
// transport stream and transitions directly to StreamClosed, discarding
// any bytes already in flight. Safe to call more than once.
func (s *ClientStream) ReceiveClose() error {
	s.cancel()
	s.setClosed()
	return s.transportStream.CloseRecv()
}

func (s *ClientStream) setClosed() {
	s.mu.Lock()
	s.state = StreamClosed
	s.mu.Unlock()
}

// receiveLoop owns the transport stream's read side for its whole
// lifetime: it waits for headers, then repeatedly pulls envelopes,
// deserializing data frames into StreamResultMessage and detecting the
// protocol-specific terminal frame (gRPC trailers, gRPC-Web's trailer
// envelope, or Connect's end-stream frame) to build the final
// StreamResultComplete.
func (s *ClientStream) receiveLoop(ctx context.Context, chain *interceptorChain) {
	defer close(s.results)
	defer s.setClosed()

	headers, status, err := s.transportStream.Header()
	if err != nil {
		s.deliverComplete(ctx, chain, NewHeaders(), NewHeaders(), wrapTransportError(err))
		return
	}

	if s.cfg.Protocol != ProtocolConnect {
		g := newProtocolInterceptor(s.cfg, s.spec).(*grpcInterceptor)
		if verr := g.validateStatusOnly(status); verr != nil {
			s.deliverComplete(ctx, chain, headers, NewHeaders(), verr)
			return
		}
		if headers.Has(headerGRPCStatus) {
			// Trailers-only response: the peer rejected the call on the
			// initial HEADERS frame with no body.
			plain, trailers := promoteGRPCTrailersOnly(headers)
			headerResult, herr := s.resultFn(ctx, s.spec, StreamResult{Kind: StreamResultHeaders, Headers: plain})
			if herr != nil {
				s.deliverComplete(ctx, chain, plain, trailers, wrapIfUncoded(herr))
				return
			}
			s.results <- headerResult
			rpcErr, _, terr := g.errorFromTrailer(trailers)
			if terr != nil {
				rpcErr = NewErrorf(CodeInternal, "%v", terr)
			}
			s.deliverComplete(ctx, chain, plain, trailers, rpcErr)
			return
		}
	}

	headerResult, herr := s.resultFn(ctx, s.spec, StreamResult{Kind: StreamResultHeaders, Headers: headers})
	if herr != nil {
		s.deliverComplete(ctx, chain, headers, NewHeaders(), wrapIfUncoded(herr))
		return
	}
	s.results <- headerResult

	s.reader = &envelopeReader{pool: s.cfg.Compressions.Get(s.responseCompressionHeader(headers))}

	var trailers *Headers
	var endStreamErr error
	sawTerminal := false
	for {
		flags, payload, ok, ferr := s.reader.next()
		if ferr != nil {
			s.deliverComplete(ctx, chain, headers, NewHeaders(), wrapIfUncoded(ferr))
			return
		}
		if ok {
			switch {
			case s.cfg.Protocol == ProtocolConnect && IsConnectEndStream(flags):
				trailers, endStreamErr, ferr = parseEndStreamFrame(payload)
				if ferr != nil {
					s.deliverComplete(ctx, chain, headers, NewHeaders(), NewErrorf(CodeInternal, "%v", ferr))
					return
				}
				sawTerminal = true
				continue
			case s.cfg.Protocol == ProtocolGRPCWeb && IsGRPCWebTrailer(flags):
				trailers, ferr = parseGRPCWebTrailerFrame(payload)
				if ferr != nil {
					s.deliverComplete(ctx, chain, headers, NewHeaders(), NewErrorf(CodeInternal, "%v", ferr))
					return
				}
				sawTerminal = trailers.Has(headerGRPCStatus)
				continue
			default:
				message, derr := s.decodeMessage(payload)
				if derr != nil {
					s.deliverComplete(ctx, chain, headers, NewHeaders(), derr)
					return
				}
				msgResult, merr := s.resultFn(ctx, s.spec, StreamResult{Kind: StreamResultMessage, Message: message})
				if merr != nil {
					s.deliverComplete(ctx, chain, headers, NewHeaders(), wrapIfUncoded(merr))
					return
				}
				select {
				case s.results <- msgResult:
				case <-ctx.Done():
					s.deliverComplete(ctx, chain, headers, NewHeaders(), NewError(CodeCanceled, ctx.Err()))
					return
				}
				continue
			}
		}

		chunk, rerr := s.transportStream.Recv()
		if rerr != nil {
			if rerr != io.EOF {
				s.deliverComplete(ctx, chain, headers, NewHeaders(), wrapTransportError(rerr))
				return
			}
			break
		}
		s.reader.feed(chunk)
	}

	if trailers == nil {
		trailers = s.transportStream.Trailer()
	}
	if s.cfg.Protocol != ProtocolConnect {
		sawTerminal = trailers.Has(headerGRPCStatus)
	}

	finalErr := endStreamErr
	if s.cfg.Protocol != ProtocolConnect {
		g := newProtocolInterceptor(s.cfg, s.spec).(*grpcInterceptor)
		rpcErr, _, terr := g.errorFromTrailer(trailers)
		if terr != nil {
			finalErr = NewErrorf(CodeInternal, "%v", terr)
		} else {
			finalErr = rpcErr
		}
	}
	if !sawTerminal && finalErr == nil {
		finalErr = NewErrorf(CodeUnknown, "stream closed without trailers")
	}
	s.deliverComplete(ctx, chain, headers, trailers, finalErr)
}

func (s *ClientStream) responseCompressionHeader(headers *Headers) string {
	switch s.cfg.Protocol {
	case ProtocolConnect:
		return headers.Get(connectStreamingHeaderCompression)
	default:
		return headers.Get(headerGRPCEncoding)
	}
}

func (s *ClientStream) decodeMessage(payload []byte) (any, error) {
	if s.newMessage == nil {
		return payload, nil
	}
	message := s.newMessage()
	if err := s.cfg.codec().Deserialize(payload, message); err != nil {
		return nil, NewErrorf(CodeInternal, "unmarshal stream message: %v", err)
	}
	return message, nil
}

func (s *ClientStream) setHalfClosedRemote() {
	s.mu.Lock()
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.state = StreamClosed
	}
	s.mu.Unlock()
}

func (s *ClientStream) deliverComplete(ctx context.Context, chain *interceptorChain, headers, trailers *Headers, err error) {
	s.setHalfClosedRemote()
	responseFn := chain.wrapStreamResponse(func(context.Context, *Headers, *Headers, error) error { return nil })
	_ = responseFn(ctx, headers, trailers, err)
	result := StreamResult{Kind: StreamResultComplete, Trailers: trailers, Err: err, TracingInfo: s.transportStream.TracingInfo()}
	if emitted, rerr := s.resultFn(ctx, s.spec, result); rerr == nil {
		result = emitted
	}
	s.results <- result
}
