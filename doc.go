// Package rpccore is the protocol engine behind a client-side RPC library
// that speaks gRPC, gRPC-Web, and Connect (unary and streaming) over HTTP/1.1
// or HTTP/2.
//
// The engine negotiates headers, codec, and compression for a call, frames
// and serializes the outgoing message, drives an application-supplied
// Transport, and parses the response frames and trailers back into a typed
// result or a structured *Error. It does not implement the HTTP transport,
// TLS, code generation, or any particular message codec beyond the default
// Protobuf/JSON codecs; those are external collaborators wired in through
// ProtocolClientConfig.
package rpccore
