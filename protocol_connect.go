package rpccore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	connectUnaryHeaderCompression       = "Content-Encoding"
	connectUnaryHeaderAcceptCompression = "Accept-Encoding"
	connectUnaryTrailerPrefix           = "Trailer-"
	connectStreamingHeaderCompression       = "Connect-Content-Encoding"
	connectStreamingHeaderAcceptCompression = "Connect-Accept-Encoding"
	connectHeaderTimeout                = "Connect-Timeout-Ms"
	connectHeaderProtocolVersion        = "Connect-Protocol-Version"
	connectProtocolVersion              = "1"
)

// connectErrorWire is the JSON error envelope Connect unary and the final
// end-stream frame both use.
type connectErrorWire struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message,omitempty"`
	Details []connectErrorDetailWire `json:"details,omitempty"`
}

type connectErrorDetailWire struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type connectEndStreamWire struct {
	Error    *connectErrorWire   `json:"error,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

func errorToWire(err *Error) *connectErrorWire {
	if err == nil {
		return nil
	}
	wire := &connectErrorWire{Code: err.Code().String(), Message: err.Message()}
	for _, d := range err.Details() {
		wire.Details = append(wire.Details, connectErrorDetailWire{
			Type:  strings.TrimPrefix(d.TypeURL, "type.googleapis.com/"),
			Value: base64.StdEncoding.EncodeToString(d.Value),
		})
	}
	return wire
}

func wireToError(wire *connectErrorWire) *Error {
	if wire == nil {
		return nil
	}
	rpcErr := NewError(CodeFromString(wire.Code), fmt.Errorf("%s", wire.Message))
	for _, d := range wire.Details {
		value, err := base64.StdEncoding.DecodeString(d.Value)
		if err != nil {
			continue
		}
		rpcErr.AddDetail(ErrorDetail{TypeURL: "type.googleapis.com/" + d.Type, Value: value})
	}
	return rpcErr
}

// parseConnectUnaryErrorBody decodes a non-2xx Connect unary response body
// as the JSON error envelope.
func parseConnectUnaryErrorBody(body []byte) (*Error, error) {
	var wire connectErrorWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("parse connect error envelope: %w", err)
	}
	return wireToError(&wire), nil
}

// encodeEndStreamFrame renders the final Connect streaming frame payload:
// accumulated response trailers plus an optional error.
func encodeEndStreamFrame(trailers *Headers, rpcErr *Error) ([]byte, error) {
	wire := connectEndStreamWire{Error: errorToWire(rpcErr)}
	if trailers != nil {
		wire.Metadata = make(map[string][]string, len(trailers.Keys()))
		for _, key := range trailers.Keys() {
			wire.Metadata[key] = trailers.Values(key)
		}
	}
	return json.Marshal(wire)
}

// parseEndStreamFrame is the inverse of encodeEndStreamFrame.
func parseEndStreamFrame(payload []byte) (*Headers, *Error, error) {
	var wire connectEndStreamWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, nil, fmt.Errorf("parse connect end-stream frame: %w", err)
	}
	trailers := NewHeaders()
	for key, values := range wire.Metadata {
		for _, value := range values {
			trailers.Add(key, value)
		}
	}
	return trailers, wireToError(wire.Error), nil
}

// splitConnectTrailers moves every "Trailer-"-prefixed response header into
// a separate Headers container, stripping the prefix, per Connect unary's
// header/trailer promotion rule.
func splitConnectTrailers(headers *Headers) (*Headers, *Headers) {
	plain := NewHeaders()
	trailers := NewHeaders()
	for _, key := range headers.Keys() {
		if strings.HasPrefix(strings.ToLower(key), strings.ToLower(connectUnaryTrailerPrefix)) {
			bare := key[len(connectUnaryTrailerPrefix):]
			for _, value := range headers.Values(key) {
				trailers.Add(bare, value)
			}
			continue
		}
		for _, value := range headers.Values(key) {
			plain.Add(key, value)
		}
	}
	return plain, trailers
}

// promoteConnectTrailers is the request-side inverse: any header the
// caller set for delivery as a trailer gets the "Trailer-" prefix added so
// the peer recognizes it.
func promoteConnectTrailers(headers *Headers, trailerKeys []string) {
	for _, key := range trailerKeys {
		values := headers.Values(key)
		headers.Del(key)
		for _, value := range values {
			headers.Add(connectUnaryTrailerPrefix+key, value)
		}
	}
}

// connectUnaryInterceptor implements the Connect unary protocol: request
// header negotiation, GET-idempotent encoding, and JSON error decoding.
type connectUnaryInterceptor struct {
	cfg *ProtocolClientConfig
}

func (c *connectUnaryInterceptor) contentType() string {
	codec := c.cfg.codec()
	name := "proto"
	if codec != nil {
		name = codec.Name()
	}
	return "application/" + name
}

func (c *connectUnaryInterceptor) writeRequestHeaders(ctx context.Context, headers *Headers) {
	headers.Set(headerContentType, c.contentType())
	if !headers.Has(headerUserAgent) {
		headers.Set(headerUserAgent, c.cfg.UserAgent)
	}
	headers.Set(connectHeaderProtocolVersion, connectProtocolVersion)
	headers.Set(connectUnaryHeaderAcceptCompression, c.cfg.Compressions.CommaSeparated())
	if pool := c.cfg.sendCompression(); pool != nil {
		headers.Set(connectUnaryHeaderCompression, pool.Name())
	}
	if deadline, ok := ctx.Deadline(); ok {
		millis := time.Until(deadline).Milliseconds()
		if millis > 0 {
			headers.Set(connectHeaderTimeout, strconv.FormatInt(millis, 10))
		}
	}
}

// buildGetURL assembles the query-parameter form of a unary request for
// Connect's idempotent GET encoding. body is the already-serialized (and
// possibly compressed) request message.
func buildGetURL(baseURL string, body []byte, codecName, compressionName string, useBase64 bool) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse URL for GET encoding: %w", err)
	}
	query := parsed.Query()
	query.Set("connect", "v"+connectProtocolVersion)
	query.Set("encoding", codecName)
	if compressionName != "" && compressionName != compressionIdentity {
		query.Set("compression", compressionName)
	}
	if useBase64 {
		query.Set("base64", "1")
		query.Set("message", base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(body))
	} else {
		query.Set("message", string(body))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *connectUnaryInterceptor) WrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc {
	return func(ctx context.Context, req *UnaryRequest) error {
		c.writeRequestHeaders(ctx, req.Headers)
		return next(ctx, req)
	}
}

func (c *connectUnaryInterceptor) WrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc {
	return next
}

func (c *connectUnaryInterceptor) WrapStreamRequest(next StreamRequestFunc) StreamRequestFunc {
	return next
}

func (c *connectUnaryInterceptor) WrapStreamResponse(next StreamResponseFunc) StreamResponseFunc {
	return next
}

// connectUnaryInterceptor never drives a stream, so its per-message hooks
// are pure pass-throughs.
func (c *connectUnaryInterceptor) WrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc {
	return next
}

func (c *connectUnaryInterceptor) WrapStreamResult(next StreamResultFunc) StreamResultFunc {
	return next
}

// connectStreamInterceptor implements Connect's streaming variants (client,
// server, and bidi streams all share one wire framing, differing only in
// how many messages either side sends).
type connectStreamInterceptor struct {
	cfg *ProtocolClientConfig
}

func (c *connectStreamInterceptor) contentType() string {
	codec := c.cfg.codec()
	name := "proto"
	if codec != nil {
		name = codec.Name()
	}
	return "application/connect+" + name
}

func (c *connectStreamInterceptor) writeRequestHeaders(ctx context.Context, headers *Headers) {
	headers.Set(headerContentType, c.contentType())
	if !headers.Has(headerUserAgent) {
		headers.Set(headerUserAgent, c.cfg.UserAgent)
	}
	headers.Set(connectHeaderProtocolVersion, connectProtocolVersion)
	headers.Set(connectStreamingHeaderAcceptCompression, c.cfg.Compressions.CommaSeparated())
	if pool := c.cfg.sendCompression(); pool != nil {
		headers.Set(connectStreamingHeaderCompression, pool.Name())
	}
	if deadline, ok := ctx.Deadline(); ok {
		millis := time.Until(deadline).Milliseconds()
		if millis > 0 {
			headers.Set(connectHeaderTimeout, strconv.FormatInt(millis, 10))
		}
	}
}

func (c *connectStreamInterceptor) WrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc {
	return next
}

func (c *connectStreamInterceptor) WrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc {
	return next
}

func (c *connectStreamInterceptor) WrapStreamRequest(next StreamRequestFunc) StreamRequestFunc {
	return func(ctx context.Context, spec MethodSpec, headers *Headers) error {
		c.writeRequestHeaders(ctx, headers)
		return next(ctx, spec, headers)
	}
}

func (c *connectStreamInterceptor) WrapStreamResponse(next StreamResponseFunc) StreamResponseFunc {
	return next
}

// WrapStreamRequestBody and WrapStreamResult are pass-throughs for the same
// reason as the gRPC interceptor: Connect streaming's per-message framing
// (the data/end-stream envelope flag, compression) is handled by
// envelopeWriter/envelopeReader below this hook's granularity.
func (c *connectStreamInterceptor) WrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc {
	return next
}

func (c *connectStreamInterceptor) WrapStreamResult(next StreamResultFunc) StreamResultFunc {
	return next
}
