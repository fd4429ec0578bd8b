package rpccore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitConnectTrailers covers testable property 4.
func TestSplitConnectTrailers(t *testing.T) {
	headers := NewHeaders()
	headers.Set("Content-Type", "application/json")
	headers.Set("Trailer-Custom-Key", "v1")
	headers.Add("trailer-Custom-Key", "v2")

	plain, trailers := splitConnectTrailers(headers)

	assert.Equal(t, "application/json", plain.Get("Content-Type"))
	assert.False(t, plain.Has("Trailer-Custom-Key"))
	assert.Equal(t, []string{"v1", "v2"}, trailers.Values("Custom-Key"))
}

func TestPromoteConnectTrailers(t *testing.T) {
	headers := NewHeaders()
	headers.Set("Custom-Key", "v1")

	promoteConnectTrailers(headers, []string{"Custom-Key"})

	assert.False(t, headers.Has("Custom-Key"))
	assert.Equal(t, "v1", headers.Get("Trailer-Custom-Key"))
}

func TestConnectErrorWireRoundTrip(t *testing.T) {
	original := NewError(CodeResourceExhausted, assertError("no more resources!"))
	original.AddDetail(ErrorDetail{TypeURL: "type.googleapis.com/my.pkg.Detail", Value: []byte("payload")})

	wire := errorToWire(original)
	body, err := marshalForTest(wire)
	require.NoError(t, err)

	parsed, err := parseConnectUnaryErrorBody(body)
	require.NoError(t, err)
	assert.Equal(t, CodeResourceExhausted, parsed.Code())
	assert.Equal(t, "no more resources!", parsed.Message())
	require.Len(t, parsed.Details(), 1)
	assert.Equal(t, []byte("payload"), parsed.Details()[0].Value)
}

// TestEndStreamFrameRoundTrip covers scenario S4.
func TestEndStreamFrameRoundTrip(t *testing.T) {
	trailers := NewHeaders()
	trailers.Add("k", "v")

	payload, err := encodeEndStreamFrame(trailers, nil)
	require.NoError(t, err)

	gotTrailers, gotErr, err := parseEndStreamFrame(payload)
	require.NoError(t, err)
	require.Nil(t, gotErr)
	assert.Equal(t, []string{"v"}, gotTrailers.Values("k"))
}

func TestEndStreamFrameWithError(t *testing.T) {
	rpcErr := NewError(CodeNotFound, assertError("missing"))
	payload, err := encodeEndStreamFrame(NewHeaders(), rpcErr)
	require.NoError(t, err)

	_, gotErr, err := parseEndStreamFrame(payload)
	require.NoError(t, err)
	require.NotNil(t, gotErr)
	assert.Equal(t, CodeNotFound, gotErr.Code())
}

func TestBuildGetURL(t *testing.T) {
	url, err := buildGetURL("https://h/svc/Method", []byte(`{"a":1}`), "json", "", false)
	require.NoError(t, err)
	assert.Contains(t, url, "connect=v1")
	assert.Contains(t, url, "encoding=json")
	assert.Contains(t, url, "message=")
}

func TestConnectWriteRequestHeadersPreservesCallerUserAgent(t *testing.T) {
	cfg := &ProtocolClientConfig{
		Compressions: newCompressionRegistry(nil),
		Codecs:       newCodecRegistry([]Codec{NewProtoCodec()}),
		CodecName:    "proto",
		UserAgent:    "rpccore/default",
	}
	c := &connectUnaryInterceptor{cfg: cfg}

	headers := NewHeaders()
	headers.Set(headerUserAgent, "my-custom-user-agent")
	c.writeRequestHeaders(noDeadlineContext(), headers)

	assert.Equal(t, "my-custom-user-agent", headers.Get("User-Agent"))
	assert.Equal(t, "application/proto", headers.Get("Content-Type"))
}
