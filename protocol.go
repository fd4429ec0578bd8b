package rpccore

import (
	"fmt"

	"github.com/go-kit/log"
)

// Protocol selects which wire protocol a ProtocolClient speaks. Exactly one
// is chosen per client; this package never auto-detects a protocol from a
// response (see Non-goals).
type Protocol uint8

const (
	ProtocolConnect Protocol = iota
	ProtocolGRPC
	ProtocolGRPCWeb
)

func (p Protocol) String() string {
	switch p {
	case ProtocolConnect:
		return "connect"
	case ProtocolGRPC:
		return "grpc"
	case ProtocolGRPCWeb:
		return "grpc-web"
	default:
		return "unknown_protocol"
	}
}

// GetRequestMode selects when a Connect unary call is allowed to be sent as
// an HTTP GET with the request folded into the URL instead of a POST body.
type GetRequestMode uint8

const (
	// GetDisabled never sends GET; every unary call is a POST.
	GetDisabled GetRequestMode = iota
	// GetIfIdempotent sends GET only for calls whose MethodSpec marks them
	// Idempotent.
	GetIfIdempotent
	// GetAlways sends GET regardless of MethodSpec.Idempotent.
	GetAlways
)

func (m GetRequestMode) String() string {
	switch m {
	case GetDisabled:
		return "disabled"
	case GetIfIdempotent:
		return "enabled_if_idempotent"
	case GetAlways:
		return "always"
	default:
		return "unknown_get_request_mode"
	}
}

// GetConfiguration controls whether, and how, a unary Connect call is sent
// as an HTTP GET with the request folded into query parameters instead of a
// POST body.
type GetConfiguration struct {
	Mode      GetRequestMode
	UseBase64 bool
	// MaxURLSize is the largest assembled GET URL this client will send; a
	// GET that would exceed it falls back to POST instead, the way a
	// reverse proxy or load balancer's own URL-length ceiling would force a
	// client to behave anyway.
	MaxURLSize int
}

// defaultGetConfiguration matches connect-go's own default ceiling before
// falling back to POST.
func defaultGetConfiguration() GetConfiguration {
	return GetConfiguration{Mode: GetDisabled, UseBase64: false, MaxURLSize: 8192}
}

// shouldUseGet reports whether spec's unary call should be attempted as a
// GET, per getConfiguration's three-state mode.
func (g GetConfiguration) shouldUseGet(spec MethodSpec) bool {
	switch g.Mode {
	case GetAlways:
		return true
	case GetIfIdempotent:
		return spec.Idempotent
	default:
		return false
	}
}

// ProtocolClientConfig is the immutable configuration a ProtocolClient is
// built from. Use NewProtocolClientConfig with ClientOptions to construct
// one; the zero value is not usable.
type ProtocolClientConfig struct {
	BaseURL  string
	Protocol Protocol

	Codecs       *codecRegistry
	CodecName    string // which registered codec to use on the wire
	Compressions *compressionRegistry
	SendCompressionName string
	CompressMinBytes    int

	ErrorDetailParser ErrorDetailParser
	Interceptors      []Interceptor
	Transport         Transport
	Logger            log.Logger
	UserAgent         string
	Get               GetConfiguration
}

// NewProtocolClientConfig builds a ProtocolClientConfig for baseURL and
// protocol, applying opts in order. Transport must be supplied through an
// option; everything else has a workable default (the codecs default to
// Protobuf and JSON, with "proto" on the wire).
func NewProtocolClientConfig(baseURL string, protocol Protocol, opts ...ClientOption) (*ProtocolClientConfig, error) {
	cfg := &ProtocolClientConfig{
		BaseURL:   baseURL,
		Protocol:  protocol,
		CodecName: "proto",
		Logger:    log.NewNopLogger(),
		UserAgent: defaultUserAgent(protocol),
		Get:       defaultGetConfiguration(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Codecs == nil {
		cfg.Codecs = newCodecRegistry([]Codec{NewProtoCodec(), NewJSONCodec()})
	}
	if cfg.Compressions == nil {
		cfg.Compressions = newCompressionRegistry(nil)
	}
	if cfg.ErrorDetailParser == nil {
		cfg.ErrorDetailParser = NewStatusDetailParser()
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("rpccore: ProtocolClientConfig requires a Transport")
	}
	if _, ok := cfg.Codecs.Get(cfg.CodecName); !ok {
		return nil, fmt.Errorf("rpccore: codec %q was not registered via WithCodecs", cfg.CodecName)
	}
	return cfg, nil
}

func defaultUserAgent(protocol Protocol) string {
	return fmt.Sprintf("rpccore/%s (%s)", libraryVersion, protocol)
}

const libraryVersion = "0.1.0"

// codec returns the configured wire codec; callers establish its presence
// at construction time via NewProtocolClientConfig, so the second return is
// unchecked here.
func (c *ProtocolClientConfig) codec() Codec {
	codec, _ := c.Codecs.Get(c.CodecName)
	return codec
}

// sendCompression returns the CompressionPool to apply to outgoing
// messages, or nil for identity.
func (c *ProtocolClientConfig) sendCompression() CompressionPool {
	return c.Compressions.Get(c.SendCompressionName)
}

// newProtocolInterceptor returns the single Interceptor implementing this
// config's wire protocol for the given stream shape. It is always installed
// nearest the transport, after every user-supplied interceptor.
func newProtocolInterceptor(cfg *ProtocolClientConfig, spec MethodSpec) Interceptor {
	switch cfg.Protocol {
	case ProtocolGRPC:
		return &grpcInterceptor{cfg: cfg, web: false}
	case ProtocolGRPCWeb:
		return &grpcInterceptor{cfg: cfg, web: true}
	default:
		if spec.StreamKind == StreamUnary {
			return &connectUnaryInterceptor{cfg: cfg}
		}
		return &connectStreamInterceptor{cfg: cfg}
	}
}
