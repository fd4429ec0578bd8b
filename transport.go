package rpccore

import "context"

// TransportRequest is the wire-level request a Transport sends. The
// protocol interceptor nearest the transport has already set every header
// (content type, codec, compression, timeout) by the time this reaches the
// Transport; the Transport's only job is moving bytes.
type TransportRequest struct {
	Method  string // "GET" or "POST"
	URL     string
	Headers *Headers
}

// TransportUnaryResponse is the wire-level result of a single
// request/response exchange.
type TransportUnaryResponse struct {
	StatusCode int
	Headers    *Headers
	Trailers   *Headers
	Body       []byte
	// TracingInfo is opaque tracing metadata (e.g. a span carrier) the
	// Transport implementation may attach for interceptors and callers to
	// read back off UnaryResponse.TracingInfo. httpTransport leaves it nil.
	TracingInfo any
}

// TransportStream is a single full-duplex HTTP exchange: the caller writes
// enveloped request frames with Send, signals no more are coming with
// CloseSend, and reads enveloped response frames with Recv until it returns
// io.EOF, at which point Trailer is populated.
type TransportStream interface {
	Send(frame []byte) error
	CloseSend() error
	// Recv returns the next chunk of response body bytes. Implementations
	// may return fewer bytes than one envelope; the caller buffers partial
	// frames via envelopeReader.
	Recv() ([]byte, error)
	// Header blocks until the response headers have arrived.
	Header() (*Headers, int, error)
	Trailer() *Headers
	CloseRecv() error
	// TracingInfo returns opaque tracing metadata for this stream, or nil
	// if the implementation does not supply any. Mirrors
	// TransportUnaryResponse.TracingInfo for the streaming path.
	TracingInfo() any
}

// Transport is the boundary between this package and the actual HTTP/1.1
// or HTTP/2 round trip, including TLS. ProtocolClient and the stream driver
// depend only on this interface. NewHTTPTransport supplies a default
// implementation that hands the round trip itself to an HTTPClient.
type Transport interface {
	Unary(ctx context.Context, req *TransportRequest, body []byte) (*TransportUnaryResponse, error)
	NewStream(ctx context.Context, req *TransportRequest) (TransportStream, error)
}
