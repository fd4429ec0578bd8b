package rpccore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// gRPC and gRPC-Web header names. gRPC-Web reuses every one of these
// verbatim; the two protocols differ only in content type, the Te header,
// and how trailers reach the client (real HTTP trailers for gRPC, a final
// enveloped frame for gRPC-Web).
const (
	headerGRPCEncoding        = "Grpc-Encoding"
	headerGRPCAcceptEncoding  = "Grpc-Accept-Encoding"
	headerGRPCTimeout         = "Grpc-Timeout"
	headerGRPCStatus          = "Grpc-Status"
	headerGRPCMessage         = "Grpc-Message"
	headerGRPCStatusDetails   = "Grpc-Status-Details-Bin"
	headerContentType         = "Content-Type"
	headerUserAgent           = "User-Agent"
	headerTE                  = "Te"
)

var grpcTimeoutUnits = []struct {
	suffix byte
	unit   time.Duration
}{
	{'n', time.Nanosecond},
	{'u', time.Microsecond},
	{'m', time.Millisecond},
	{'S', time.Second},
	{'M', time.Minute},
	{'H', time.Hour},
}

// encodeGRPCTimeout renders d as the Grpc-Timeout header value: up to 8
// ASCII digits followed by a unit suffix, per the gRPC wire spec. It picks
// the finest unit that keeps the digit count at or under 8; a duration
// that would overflow even hours is sent as no timeout at all (an empty
// string, meaning the caller should omit the header).
func encodeGRPCTimeout(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	for _, u := range grpcTimeoutUnits {
		value := divideRoundUp(d, u.unit)
		if value < 100000000 {
			digits := strconv.FormatInt(value, 10)
			if len(digits) <= 8 {
				return digits + string(u.suffix)
			}
		}
	}
	return ""
}

func divideRoundUp(d, unit time.Duration) int64 {
	return (int64(d) + int64(unit) - 1) / int64(unit)
}

// parseGRPCTimeout decodes a Grpc-Timeout header value back into a
// time.Duration. An empty or malformed value means no timeout.
func parseGRPCTimeout(value string) (time.Duration, bool) {
	if value == "" || len(value) < 2 {
		return 0, false
	}
	suffix := value[len(value)-1]
	digits := value[:len(value)-1]
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	for _, u := range grpcTimeoutUnits {
		if u.suffix == suffix {
			return time.Duration(n) * u.unit, true
		}
	}
	return 0, false
}

// grpcPercentEncode escapes bytes that are invalid in an HTTP header value
// (anything outside printable ASCII, plus '%' itself) for the Grpc-Message
// trailer, which must be able to carry arbitrary UTF-8 error text.
func grpcPercentEncode(msg string) string {
	needsEscape := false
	for i := 0; i < len(msg); i++ {
		if c := msg[i]; c < 0x20 || c > 0x7E || c == '%' {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return msg
	}
	var out strings.Builder
	out.Grow(len(msg) * 3)
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c < 0x20 || c > 0x7E || c == '%' {
			fmt.Fprintf(&out, "%%%02X", c)
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

// grpcPercentDecode reverses grpcPercentEncode. Malformed escapes are
// copied through verbatim rather than rejected, since a best-effort error
// message beats losing the whole Grpc-Message trailer.
func grpcPercentDecode(msg string) string {
	if !strings.ContainsRune(msg, '%') {
		return msg
	}
	var out strings.Builder
	out.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		if msg[i] == '%' && i+2 < len(msg) {
			if b, err := strconv.ParseUint(msg[i+1:i+3], 16, 8); err == nil {
				out.WriteByte(byte(b))
				i += 2
				continue
			}
		}
		out.WriteByte(msg[i])
	}
	return out.String()
}

// grpcInterceptor implements both gRPC and gRPC-Web, switched on web the
// same way connect-go's protocolGRPC{web bool} does: the two protocols
// share every framing and trailer-parsing rule except content type, the Te
// header, and where trailers physically travel.
type grpcInterceptor struct {
	cfg *ProtocolClientConfig
	web bool
}

func (g *grpcInterceptor) contentType() string {
	name := "application/grpc"
	if g.web {
		name = "application/grpc-web"
	}
	if codec := g.cfg.codec(); codec != nil && codec.Name() != "proto" {
		return name + "+" + codec.Name()
	}
	return name
}

func (g *grpcInterceptor) writeRequestHeaders(ctx context.Context, headers *Headers) {
	headers.Set(headerContentType, g.contentType())
	if !headers.Has(headerUserAgent) {
		headers.Set(headerUserAgent, g.cfg.UserAgent)
	}
	headers.Set("Accept-Encoding", "identity")
	if codec := g.cfg.codec(); codec != nil {
		headers.Set(headerGRPCAcceptEncoding, g.cfg.Compressions.CommaSeparated())
		if pool := g.cfg.sendCompression(); pool != nil {
			headers.Set(headerGRPCEncoding, pool.Name())
		}
	}
	if !g.web {
		ensureTETrailers(headers)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if timeout := encodeGRPCTimeout(time.Until(deadline)); timeout != "" {
			headers.Set(headerGRPCTimeout, timeout)
		}
	}
}

// ensureTETrailers adds the "trailers" token to the Te header if it is not
// already present, rather than clobbering a caller-supplied value outright.
func ensureTETrailers(headers *Headers) {
	values := headers.Values(headerTE)
	if httpguts.HeaderValuesContainsToken(values, "trailers") {
		return
	}
	headers.Add(headerTE, "trailers")
}

// promoteGRPCTrailersOnly splits a trailers-only response's initial headers
// into the true headers (only Content-Type survives) and the trailers
// (everything else, including Grpc-Status/Grpc-Message/Grpc-Status-Details-Bin).
// gRPC and gRPC-Web servers that reject a call outright (e.g. an unknown
// method) send the status on the initial HEADERS frame with no body and no
// real trailer block; per the protocol, only the HTTP status and
// Content-Type count as headers in that case.
func promoteGRPCTrailersOnly(headers *Headers) (plain, trailers *Headers) {
	plain = NewHeaders()
	if contentType := headers.Get(headerContentType); contentType != "" {
		plain.Set(headerContentType, contentType)
	}
	trailers = headers.Clone()
	trailers.Del(headerContentType)
	return plain, trailers
}

// validateStatusOnly reports a transport-level failure when the HTTP status
// itself rules out a valid gRPC response, before any envelope has even been
// parsed.
func (g *grpcInterceptor) validateStatusOnly(statusCode int) error {
	if statusCode != 200 {
		return NewErrorf(httpStatusToCode(statusCode), "unexpected HTTP status %d", statusCode)
	}
	return nil
}

// errorFromTrailer builds an *Error from the Grpc-Status/Grpc-Message/
// Grpc-Status-Details-Bin trailer set, or nil if Grpc-Status is "0" (OK) or
// absent (meaning the call is still in progress — callers should not treat
// a missing trailer as success).
func (g *grpcInterceptor) errorFromTrailer(trailers *Headers) (*Error, *Headers, error) {
	raw := trailers.Get(headerGRPCStatus)
	if raw == "" {
		return nil, nil, nil
	}
	code, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("parse grpc-status %q: %w", raw, err)
	}
	if Code(code) == CodeOK {
		return nil, nil, nil
	}
	message := grpcPercentDecode(trailers.Get(headerGRPCMessage))
	rpcErr := NewError(Code(code), fmt.Errorf("%s", message))
	if encoded := trailers.Get(headerGRPCStatusDetails); encoded != "" {
		details, derr := decodeGRPCStatusDetailsBin(g.cfg.ErrorDetailParser, encoded)
		if derr == nil {
			for _, d := range details {
				rpcErr.AddDetail(d)
			}
		}
	}
	return rpcErr, trailers, nil
}

// parseGRPCWebTrailerFrame decodes the final gRPC-Web envelope payload (an
// HTTP/1.1-style header block) into a Headers container, mirroring
// connect-go's grpcUnmarshaler.Unmarshal handling of the trailer frame.
func parseGRPCWebTrailerFrame(payload []byte) (*Headers, error) {
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	mime, err := reader.ReadMIMEHeader()
	if err != nil && len(mime) == 0 {
		return nil, fmt.Errorf("parse grpc-web trailer block: %w", err)
	}
	out := NewHeaders()
	for key, values := range mime {
		for _, value := range values {
			out.Add(key, value)
		}
	}
	return out, nil
}

// httpStatusToCode maps an HTTP status that prevented a gRPC response from
// ever being produced (e.g. a proxy 502, a 404 for an unknown route) onto
// the closest RPC status code, grounded on connect-go's grpcHTTPToCode
// table.
func httpStatusToCode(status int) Code {
	switch status {
	case 400:
		return CodeInternal
	case 401:
		return CodeUnauthenticated
	case 403:
		return CodePermissionDenied
	case 404:
		return CodeUnimplemented
	case 429, 502, 503, 504:
		return CodeUnavailable
	default:
		return CodeUnknown
	}
}

func (g *grpcInterceptor) WrapUnaryRequest(next UnaryRequestFunc) UnaryRequestFunc {
	return func(ctx context.Context, req *UnaryRequest) error {
		g.writeRequestHeaders(ctx, req.Headers)
		return next(ctx, req)
	}
}

func (g *grpcInterceptor) WrapUnaryResponse(next UnaryResponseFunc) UnaryResponseFunc {
	return next
}

func (g *grpcInterceptor) WrapStreamRequest(next StreamRequestFunc) StreamRequestFunc {
	return func(ctx context.Context, spec MethodSpec, headers *Headers) error {
		g.writeRequestHeaders(ctx, headers)
		return next(ctx, spec, headers)
	}
}

func (g *grpcInterceptor) WrapStreamResponse(next StreamResponseFunc) StreamResponseFunc {
	return next
}

// WrapStreamRequestBody and WrapStreamResult are pass-throughs: gRPC and
// gRPC-Web's per-message framing (envelope flags, compression) is handled
// by envelopeWriter/envelopeReader against raw bytes the codec hasn't
// produced yet at request time and has already decompressed by result
// time, so there is no protocol-specific work left to do at this hook's
// granularity. Both hooks still fire on every interceptor chain, giving
// user interceptors real per-message visibility.
func (g *grpcInterceptor) WrapStreamRequestBody(next StreamRequestBodyFunc) StreamRequestBodyFunc {
	return next
}

func (g *grpcInterceptor) WrapStreamResult(next StreamResultFunc) StreamResultFunc {
	return next
}
