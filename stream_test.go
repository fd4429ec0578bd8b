package rpccore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
)

// fakeClientStream is a TransportStream whose Recv blocks on a channel the
// test feeds, and which honors ctx cancellation the way a real HTTP
// transport's body read would.
type fakeClientStream struct {
	ctx     context.Context
	headers *Headers
	status  int
	trailer *Headers
	chunks  chan []byte
}

func (f *fakeClientStream) Send([]byte) error { return nil }
func (f *fakeClientStream) CloseSend() error  { return nil }
func (f *fakeClientStream) CloseRecv() error  { return nil }

func (f *fakeClientStream) Header() (*Headers, int, error) {
	return f.headers, f.status, nil
}

func (f *fakeClientStream) Trailer() *Headers {
	if f.trailer == nil {
		return NewHeaders()
	}
	return f.trailer
}

func (f *fakeClientStream) TracingInfo() any { return nil }

func (f *fakeClientStream) Recv() ([]byte, error) {
	select {
	case chunk, ok := <-f.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

type fakeStreamTransport struct {
	stream *fakeClientStream
}

func (f *fakeStreamTransport) Unary(context.Context, *TransportRequest, []byte) (*TransportUnaryResponse, error) {
	panic("not used in these tests")
}

func (f *fakeStreamTransport) NewStream(ctx context.Context, req *TransportRequest) (TransportStream, error) {
	f.stream.ctx = ctx
	return f.stream, nil
}

func connectStreamConfig(t *testing.T, transport Transport) *ProtocolClientConfig {
	t.Helper()
	cfg, err := NewProtocolClientConfig("https://h", ProtocolConnect,
		WithCodecs(NewJSONCodec()), WithTransport(transport))
	require.NoError(t, err)
	return cfg
}

// TestStreamResultOrdering covers testable property 5: Headers precedes any
// Message precedes Complete, and at most one Complete is observed.
func TestStreamResultOrdering(t *testing.T) {
	codec := NewJSONCodec()
	messageFrame, err := PackEnvelope(mustSerialize(t, codec, &emptypb.Empty{}), nil, 0, 0)
	require.NoError(t, err)

	endStreamPayload, err := encodeEndStreamFrame(headersWith("k", "v"), nil)
	require.NoError(t, err)
	endFrame, err := PackEnvelope(endStreamPayload, nil, 0, flagConnectEndStream)
	require.NoError(t, err)

	chunks := make(chan []byte, 2)
	chunks <- messageFrame
	chunks <- endFrame
	close(chunks)

	fakeStream := &fakeClientStream{headers: NewHeaders(), status: 200, chunks: chunks}
	transport := &fakeStreamTransport{stream: fakeStream}

	client := NewProtocolClient(connectStreamConfig(t, transport))
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamServer}

	stream, err := client.NewClientStream(context.Background(), spec, func() any { return &emptypb.Empty{} })
	require.NoError(t, err)

	var kinds []StreamResultKind
	var completeCount int
	for result := range stream.Results() {
		kinds = append(kinds, result.Kind)
		if result.Kind == StreamResultComplete {
			completeCount++
			assert.NoError(t, result.Err)
			assert.Equal(t, []string{"v"}, result.Trailers.Values("k"))
		}
	}

	require.Len(t, kinds, 3)
	assert.Equal(t, StreamResultHeaders, kinds[0])
	assert.Equal(t, StreamResultMessage, kinds[1])
	assert.Equal(t, StreamResultComplete, kinds[2])
	assert.Equal(t, 1, completeCount)
}

// TestStreamCancellation covers scenario S6.
func TestStreamCancellation(t *testing.T) {
	chunks := make(chan []byte)
	fakeStream := &fakeClientStream{headers: NewHeaders(), status: 200, chunks: chunks}
	transport := &fakeStreamTransport{stream: fakeStream}

	client := NewProtocolClient(connectStreamConfig(t, transport))
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamServer}

	stream, err := client.NewClientStream(context.Background(), spec, func() any { return &emptypb.Empty{} })
	require.NoError(t, err)

	headerResult := <-stream.Results()
	require.Equal(t, StreamResultHeaders, headerResult.Kind)

	stream.Cancel()

	select {
	case result, ok := <-stream.Results():
		require.True(t, ok)
		require.Equal(t, StreamResultComplete, result.Kind)
		require.Error(t, result.Err)
		var rpcErr *Error
		require.ErrorAs(t, result.Err, &rpcErr)
		assert.Equal(t, CodeCanceled, rpcErr.Code())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Complete after Cancel")
	}

	_, ok := <-stream.Results()
	assert.False(t, ok, "Results channel should be closed after Complete")
}

// TestStreamGRPCTrailersOnlyResponse covers a gRPC-Web peer that rejects a
// streaming call on the initial HEADERS frame instead of sending a body
// followed by a trailer frame.
func TestStreamGRPCTrailersOnlyResponse(t *testing.T) {
	headers := NewHeaders()
	headers.Set(headerContentType, "application/grpc-web")
	headers.Set(headerGRPCStatus, "12")
	headers.Set(headerGRPCMessage, grpcPercentEncode("unknown method"))

	transport := &bufferStreamTransport{stream: newBufferTransportStream(headers, 200, nil, nil)}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolGRPCWeb,
		WithCodecs(NewJSONCodec()), WithTransport(transport))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamServer}

	stream, err := client.NewClientStream(context.Background(), spec, func() any { return &emptypb.Empty{} })
	require.NoError(t, err)

	var kinds []StreamResultKind
	var complete StreamResult
	for result := range stream.Results() {
		kinds = append(kinds, result.Kind)
		if result.Kind == StreamResultComplete {
			complete = result
		}
	}

	require.Len(t, kinds, 2)
	assert.Equal(t, StreamResultHeaders, kinds[0])
	assert.Equal(t, StreamResultComplete, kinds[1])

	require.Error(t, complete.Err)
	var rpcErr *Error
	require.ErrorAs(t, complete.Err, &rpcErr)
	assert.Equal(t, CodeUnimplemented, rpcErr.Code())
	assert.Equal(t, "unknown method", rpcErr.Message())
	assert.Equal(t, "12", complete.Trailers.Get(headerGRPCStatus))
}

func mustSerialize(t *testing.T, codec Codec, message any) []byte {
	t.Helper()
	data, err := codec.Serialize(message)
	require.NoError(t, err)
	return data
}

func headersWith(key, value string) *Headers {
	h := NewHeaders()
	h.Add(key, value)
	return h
}
