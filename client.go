package rpccore

import (
	"context"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// ProtocolClient drives a single RPC method's wire protocol: it assembles
// the request URL, runs the interceptor chain, hands bytes to the
// configured Transport, and parses the response back into headers,
// trailers, and either a message or an error. One ProtocolClient is
// typically built per generated service; MethodSpec varies per call.
type ProtocolClient struct {
	cfg *ProtocolClientConfig
}

// NewProtocolClient builds a ProtocolClient from cfg.
func NewProtocolClient(cfg *ProtocolClientConfig) *ProtocolClient {
	return &ProtocolClient{cfg: cfg}
}

// assembleURL joins baseURL and a method path exactly once, regardless of
// whether either side already carries a slash.
func assembleURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// CallUnary performs a single request/response RPC. request and response
// must be pointers the configured Codec can (de)serialize.
func (c *ProtocolClient) CallUnary(ctx context.Context, spec MethodSpec, request, response any) (*Headers, *Headers, error) {
	chain := newInterceptorChain(append(append([]Interceptor{}, c.cfg.Interceptors...), newProtocolInterceptor(c.cfg, spec)))

	headers := NewHeaders()
	req := &UnaryRequest{Spec: spec, Headers: headers, Message: request}
	requestFn := chain.wrapUnaryRequest(func(context.Context, *UnaryRequest) error { return nil })
	if err := requestFn(ctx, req); err != nil {
		return nil, nil, wrapIfUncoded(err)
	}

	var resp *UnaryResponse
	var err error
	switch c.cfg.Protocol {
	case ProtocolConnect:
		resp, err = c.callConnectUnary(ctx, spec, req, response)
	default:
		resp, err = c.callEnvelopedUnary(ctx, spec, req, response)
	}
	if err != nil {
		resp = &UnaryResponse{Headers: NewHeaders(), Trailers: NewHeaders(), Err: err}
	}

	responseFn := chain.wrapUnaryResponse(func(context.Context, *UnaryResponse) error { return nil })
	_ = responseFn(ctx, resp)

	level.Debug(c.cfg.Logger).Log("msg", "unary call complete", "method", spec.Path, "err", resp.Err)
	return resp.Headers, resp.Trailers, resp.Err
}

func (c *ProtocolClient) callConnectUnary(ctx context.Context, spec MethodSpec, req *UnaryRequest, response any) (*UnaryResponse, error) {
	codec := c.cfg.codec()
	var body []byte
	var err error
	useGet := c.cfg.Get.shouldUseGet(spec)
	if useGet {
		body, err = codec.DeterministicSerialize(req.Message)
	} else {
		body, err = codec.Serialize(req.Message)
	}
	if err != nil {
		return nil, NewErrorf(CodeInternal, "marshal request: %v", err)
	}

	compressionName := ""
	if pool := c.cfg.sendCompression(); pool != nil && len(body) >= c.cfg.CompressMinBytes {
		compressed, cerr := pool.Compress(body)
		if cerr != nil {
			return nil, NewErrorf(CodeInternal, "compress request: %v", cerr)
		}
		body = compressed
		compressionName = pool.Name()
	} else {
		req.Headers.Del(connectUnaryHeaderCompression)
	}

	method := "POST"
	url := assembleURL(c.cfg.BaseURL, spec.Path)
	if useGet {
		getURL, gerr := buildGetURL(url, body, codec.Name(), compressionName, c.cfg.Get.UseBase64)
		if gerr != nil {
			return nil, NewErrorf(CodeInternal, "build GET url: %v", gerr)
		}
		if c.cfg.Get.MaxURLSize <= 0 || len(getURL) <= c.cfg.Get.MaxURLSize {
			method, url = "GET", getURL
			body = nil
			req.Headers.Del(connectUnaryHeaderCompression)
		}
		// Else the assembled GET URL exceeds MaxURLSize: fall through to
		// the POST already prepared above, compression header intact.
	}

	transportResp, err := c.cfg.Transport.Unary(ctx, &TransportRequest{Method: method, URL: url, Headers: req.Headers}, body)
	if err != nil {
		return nil, wrapTransportError(errors.Wrap(err, "unary transport call"))
	}

	plainHeaders, trailers := splitConnectTrailers(transportResp.Headers)

	if transportResp.StatusCode != 200 {
		rpcErr, perr := parseConnectUnaryErrorBody(transportResp.Body)
		if perr != nil {
			rpcErr = NewErrorf(httpStatusToCode(transportResp.StatusCode), "unary call failed with HTTP %d", transportResp.StatusCode)
		}
		return &UnaryResponse{Headers: plainHeaders, Trailers: trailers, Err: rpcErr, TracingInfo: transportResp.TracingInfo}, nil
	}

	respBody := transportResp.Body
	if encoding := plainHeaders.Get(connectUnaryHeaderCompression); encoding != "" && encoding != compressionIdentity {
		pool, perr := negotiateResponseCompression(c.cfg.Compressions, encoding)
		if perr != nil {
			return &UnaryResponse{Headers: plainHeaders, Trailers: trailers, Err: perr.(*Error), TracingInfo: transportResp.TracingInfo}, nil
		}
		respBody, err = pool.Decompress(respBody)
		if err != nil {
			return &UnaryResponse{Headers: plainHeaders, Trailers: trailers, Err: NewErrorf(CodeInternal, "decompress response: %v", err), TracingInfo: transportResp.TracingInfo}, nil
		}
	}

	if err := codec.Deserialize(respBody, response); err != nil {
		return &UnaryResponse{Headers: plainHeaders, Trailers: trailers, Err: NewErrorf(CodeInternal, "unmarshal response: %v", err), TracingInfo: transportResp.TracingInfo}, nil
	}

	return &UnaryResponse{Headers: plainHeaders, Trailers: trailers, Message: response, TracingInfo: transportResp.TracingInfo}, nil
}

// callEnvelopedUnary implements gRPC and gRPC-Web unary calls, which are
// wire-identical to a one-message client stream followed by a one-message
// server stream: the request is one enveloped frame, and the response is
// one enveloped data frame plus a trailer (real HTTP trailers for gRPC, a
// final flagged envelope for gRPC-Web).
func (c *ProtocolClient) callEnvelopedUnary(ctx context.Context, spec MethodSpec, req *UnaryRequest, response any) (*UnaryResponse, error) {
	g := newProtocolInterceptor(c.cfg, MethodSpec{StreamKind: StreamServer}).(*grpcInterceptor)

	url := assembleURL(c.cfg.BaseURL, spec.Path)
	stream, err := c.cfg.Transport.NewStream(ctx, &TransportRequest{Method: "POST", URL: url, Headers: req.Headers})
	if err != nil {
		return nil, wrapTransportError(errors.Wrap(err, "open stream"))
	}

	writer := &envelopeWriter{codec: c.cfg.codec(), pool: c.cfg.sendCompression(), compressMinBytes: c.cfg.CompressMinBytes}
	frame, err := writer.marshal(req.Message)
	if err != nil {
		_ = stream.CloseRecv()
		return nil, NewErrorf(CodeInternal, "marshal request: %v", err)
	}
	if err := stream.Send(frame); err != nil {
		_ = stream.CloseRecv()
		return nil, wrapTransportError(errors.Wrap(err, "send request frame"))
	}
	if err := stream.CloseSend(); err != nil {
		_ = stream.CloseRecv()
		return nil, wrapTransportError(errors.Wrap(err, "close send"))
	}

	headers, status, err := stream.Header()
	if err != nil {
		return nil, wrapTransportError(errors.Wrap(err, "read response headers"))
	}
	if verr := g.validateStatusOnly(status); verr != nil {
		return &UnaryResponse{Headers: headers, Trailers: NewHeaders(), Err: verr, TracingInfo: stream.TracingInfo()}, nil
	}

	var trailers *Headers
	if headers.Has(headerGRPCStatus) {
		// Trailers-only response: the peer rejected the call on the initial
		// HEADERS frame with no body, so headers carries Grpc-Status already.
		headers, trailers = promoteGRPCTrailersOnly(headers)
		_ = stream.CloseRecv()
		rpcErr, _, terr := g.errorFromTrailer(trailers)
		if terr != nil {
			return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeInternal, "%v", terr), TracingInfo: stream.TracingInfo()}, nil
		}
		if rpcErr != nil {
			return &UnaryResponse{Headers: headers, Trailers: trailers, Err: rpcErr, TracingInfo: stream.TracingInfo()}, nil
		}
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeInternal, "server closed stream without a response message"), TracingInfo: stream.TracingInfo()}, nil
	}

	reader := &envelopeReader{pool: c.cfg.Compressions.Get(headers.Get(headerGRPCEncoding))}
	var message []byte
	for {
		flags, payload, ok, ferr := reader.next()
		if ferr != nil {
			_ = stream.CloseRecv()
			return &UnaryResponse{Headers: headers, Trailers: NewHeaders(), Err: wrapIfUncoded(ferr), TracingInfo: stream.TracingInfo()}, nil
		}
		if ok {
			if g.web && IsGRPCWebTrailer(flags) {
				trailers, ferr = parseGRPCWebTrailerFrame(payload)
				if ferr != nil {
					_ = stream.CloseRecv()
					return &UnaryResponse{Headers: headers, Trailers: NewHeaders(), Err: NewErrorf(CodeInternal, "%v", ferr), TracingInfo: stream.TracingInfo()}, nil
				}
				continue
			}
			message = payload
			continue
		}
		chunk, rerr := stream.Recv()
		if rerr != nil {
			if trailers == nil {
				trailers = stream.Trailer()
			}
			break
		}
		reader.feed(chunk)
	}
	_ = stream.CloseRecv()
	if trailers == nil {
		trailers = stream.Trailer()
	}

	rpcErr, _, terr := g.errorFromTrailer(trailers)
	if terr != nil {
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeInternal, "%v", terr), TracingInfo: stream.TracingInfo()}, nil
	}
	if rpcErr != nil {
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: rpcErr, TracingInfo: stream.TracingInfo()}, nil
	}
	if !trailers.Has(headerGRPCStatus) {
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeUnknown, "server closed stream without trailers"), TracingInfo: stream.TracingInfo()}, nil
	}
	if message == nil {
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeInternal, "server closed stream without a response message"), TracingInfo: stream.TracingInfo()}, nil
	}
	if err := c.cfg.codec().Deserialize(message, response); err != nil {
		return &UnaryResponse{Headers: headers, Trailers: trailers, Err: NewErrorf(CodeInternal, "unmarshal response: %v", err), TracingInfo: stream.TracingInfo()}, nil
	}
	return &UnaryResponse{Headers: headers, Trailers: trailers, Message: response, TracingInfo: stream.TracingInfo()}, nil
}
