package rpccore

import "strings"

// StreamKind describes the shape of a procedure's request/response stream.
type StreamKind uint8

const (
	StreamUnary StreamKind = iota
	StreamClient
	StreamServer
	StreamBidi
)

func (k StreamKind) String() string {
	switch k {
	case StreamUnary:
		return "unary"
	case StreamClient:
		return "client_stream"
	case StreamServer:
		return "server_stream"
	case StreamBidi:
		return "bidi_stream"
	default:
		return "unknown_stream_kind"
	}
}

// MethodSpec identifies a single RPC method and is immutable once
// constructed: "package.Service/Method" plus the request/response type
// names and the stream shape.
type MethodSpec struct {
	Path         string
	RequestType  string
	ResponseType string
	StreamKind   StreamKind
	// Idempotent marks methods safe to send as an HTTP GET under Connect's
	// idempotent-GET encoding (ProtocolClientConfig.GetConfiguration).
	Idempotent bool
}

// Service returns the "package.Service" portion of Path.
func (m MethodSpec) Service() string {
	path := strings.TrimPrefix(m.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return path
}

// Method returns the method name portion of Path.
func (m MethodSpec) Method() string {
	path := strings.TrimPrefix(m.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
