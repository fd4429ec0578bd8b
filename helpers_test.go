package rpccore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
)

func base64RawEncode(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}

func noDeadlineContext() context.Context {
	return context.Background()
}

func assertError(msg string) error {
	return errors.New(msg)
}

func marshalForTest(v any) ([]byte, error) {
	return json.Marshal(v)
}

// bufferStreamTransport hands NewStream a single pre-built
// bufferTransportStream, letting tests exercise callers of NewStream
// (ProtocolClient.CallUnary's enveloped path, ProtocolClient.NewClientStream)
// against a canned, fully-buffered response instead of a real round trip.
type bufferStreamTransport struct {
	stream *bufferTransportStream
}

func (b *bufferStreamTransport) Unary(context.Context, *TransportRequest, []byte) (*TransportUnaryResponse, error) {
	panic("not used in these tests")
}

func (b *bufferStreamTransport) NewStream(ctx context.Context, req *TransportRequest) (TransportStream, error) {
	return b.stream, nil
}

// bufferTransportStream adapts a fully-buffered, non-streaming canned
// response into the TransportStream shape, replaying the whole body as one
// Recv chunk. Send discards every frame it is given, which is all a test
// double needs. It exists purely to let tests (see
// bufferStreamTransport above) drive ProtocolClient.CallUnary's enveloped
// path and ProtocolClient.NewClientStream against a scripted response
// without a real HTTP round trip.
type bufferTransportStream struct {
	headers   *Headers
	status    int
	body      io.Reader
	trailers  *Headers
	headerCh  chan struct{}
	headerErr error
}

func newBufferTransportStream(headers *Headers, status int, body []byte, trailers *Headers) *bufferTransportStream {
	ch := make(chan struct{})
	close(ch)
	return &bufferTransportStream{
		headers:  headers,
		status:   status,
		body:     newByteReader(body),
		trailers: trailers,
		headerCh: ch,
	}
}

func newByteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (s *bufferTransportStream) Send([]byte) error { return nil }
func (s *bufferTransportStream) CloseSend() error  { return nil }
func (s *bufferTransportStream) CloseRecv() error  { return nil }
func (s *bufferTransportStream) Trailer() *Headers { return s.trailers }
func (s *bufferTransportStream) TracingInfo() any  { return nil }

func (s *bufferTransportStream) Header() (*Headers, int, error) {
	<-s.headerCh
	return s.headers, s.status, s.headerErr
}

func (s *bufferTransportStream) Recv() ([]byte, error) {
	buf := make([]byte, 32*1024)
	n, err := s.body.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}
