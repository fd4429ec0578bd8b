package rpccore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TestAssembleURL covers testable property 1.
func TestAssembleURL(t *testing.T) {
	for _, host := range []string{"https://h", "https://h/"} {
		got := assembleURL(host, "svc.Service/Method")
		assert.Equal(t, "https://h/svc.Service/Method", got)
	}
}

// fakeUnaryTransport is a minimal Transport used only to drive CallUnary in
// tests without a real HTTP round trip.
type fakeUnaryTransport struct {
	gotReq *TransportRequest
	gotBody []byte
	resp    *TransportUnaryResponse
	err     error
}

func (f *fakeUnaryTransport) Unary(ctx context.Context, req *TransportRequest, body []byte) (*TransportUnaryResponse, error) {
	f.gotReq = req
	f.gotBody = body
	return f.resp, f.err
}

func (f *fakeUnaryTransport) NewStream(ctx context.Context, req *TransportRequest) (TransportStream, error) {
	panic("not used in these tests")
}

func TestCallUnaryConnectSuccess(t *testing.T) {
	codec := NewJSONCodec()
	respHeaders := NewHeaders()
	respHeaders.Set("Content-Type", "application/json")
	transport := &fakeUnaryTransport{
		resp: &TransportUnaryResponse{StatusCode: 200, Headers: respHeaders, Body: []byte(`{}`)},
	}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolConnect,
		WithCodecs(codec), WithTransport(transport))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamUnary}

	headers, _, callErr := client.CallUnary(context.Background(), spec, &emptypb.Empty{}, &emptypb.Empty{})
	require.NoError(t, callErr)
	assert.Equal(t, "https://h/svc.Service/Method", transport.gotReq.URL)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestCallUnaryConnectErrorEnvelope(t *testing.T) {
	codec := NewJSONCodec()
	transport := &fakeUnaryTransport{
		resp: &TransportUnaryResponse{
			StatusCode: 404,
			Headers:    NewHeaders(),
			Body:       []byte(`{"code":"not_found","message":"no such thing"}`),
		},
	}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolConnect,
		WithCodecs(codec), WithTransport(transport))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamUnary}

	_, _, callErr := client.CallUnary(context.Background(), spec, &emptypb.Empty{}, &emptypb.Empty{})
	require.Error(t, callErr)
	var rpcErr *Error
	require.ErrorAs(t, callErr, &rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code())
	assert.Equal(t, "no such thing", rpcErr.Message())
}

// TestCallUnaryGetAlwaysForcesNonIdempotentMethod covers the `always`
// getConfiguration mode, which must emit a GET even for a non-idempotent
// MethodSpec.
func TestCallUnaryGetAlwaysForcesNonIdempotentMethod(t *testing.T) {
	codec := NewJSONCodec()
	transport := &fakeUnaryTransport{
		resp: &TransportUnaryResponse{StatusCode: 200, Headers: NewHeaders(), Body: []byte(`{}`)},
	}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolConnect,
		WithCodecs(codec), WithTransport(transport),
		WithGetConfiguration(GetConfiguration{Mode: GetAlways, MaxURLSize: 8192}))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamUnary, Idempotent: false}

	_, _, callErr := client.CallUnary(context.Background(), spec, &emptypb.Empty{}, &emptypb.Empty{})
	require.NoError(t, callErr)
	assert.Equal(t, "GET", transport.gotReq.Method)
	assert.Nil(t, transport.gotBody)
}

// TestCallUnaryGetFallsBackToPostWhenURLTooLong covers the MaxURLSize
// ceiling: a GET that would exceed it is sent as a POST instead.
func TestCallUnaryGetFallsBackToPostWhenURLTooLong(t *testing.T) {
	codec := NewJSONCodec()
	transport := &fakeUnaryTransport{
		resp: &TransportUnaryResponse{StatusCode: 200, Headers: NewHeaders(), Body: []byte(`""`)},
	}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolConnect,
		WithCodecs(codec), WithTransport(transport),
		WithGetConfiguration(GetConfiguration{Mode: GetIfIdempotent, MaxURLSize: 64}))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamUnary, Idempotent: true}

	request := &wrapperspb.StringValue{Value: strings.Repeat("x", 500)}
	_, _, callErr := client.CallUnary(context.Background(), spec, request, &wrapperspb.StringValue{})
	require.NoError(t, callErr)
	assert.Equal(t, "POST", transport.gotReq.Method)
	assert.NotEmpty(t, transport.gotBody)
}

// TestCallUnaryGRPCTrailersOnlyResponse covers a peer that rejects a gRPC
// call on the initial HEADERS frame (no body, no real trailer block) rather
// than through a normal data frame followed by trailers, e.g. UNIMPLEMENTED
// for an unknown method.
func TestCallUnaryGRPCTrailersOnlyResponse(t *testing.T) {
	headers := NewHeaders()
	headers.Set(headerContentType, "application/grpc")
	headers.Set(headerGRPCStatus, "12")
	headers.Set(headerGRPCMessage, grpcPercentEncode("unknown method"))

	transport := &bufferStreamTransport{stream: newBufferTransportStream(headers, 200, nil, nil)}

	cfg, err := NewProtocolClientConfig("https://h", ProtocolGRPC,
		WithCodecs(NewJSONCodec()), WithTransport(transport))
	require.NoError(t, err)

	client := NewProtocolClient(cfg)
	spec := MethodSpec{Path: "/svc.Service/Method", StreamKind: StreamUnary}

	respHeaders, trailers, callErr := client.CallUnary(context.Background(), spec, &emptypb.Empty{}, &emptypb.Empty{})
	require.Error(t, callErr)
	var rpcErr *Error
	require.ErrorAs(t, callErr, &rpcErr)
	assert.Equal(t, CodeUnimplemented, rpcErr.Code())
	assert.Equal(t, "unknown method", rpcErr.Message())

	assert.Equal(t, "application/grpc", respHeaders.Get(headerContentType))
	assert.False(t, respHeaders.Has(headerGRPCStatus), "grpc-status must be promoted to trailers, not left on headers")
	assert.Equal(t, "12", trailers.Get(headerGRPCStatus))
}
