package rpccore

import "github.com/go-kit/log"

// ClientOption configures a ProtocolClientConfig at construction time.
type ClientOption func(*ProtocolClientConfig)

// WithCodecs registers the codecs a client may serialize with. The first
// one also becomes the default unless overridden with WithCodecName.
func WithCodecs(codecs ...Codec) ClientOption {
	return func(cfg *ProtocolClientConfig) {
		cfg.Codecs = newCodecRegistry(codecs)
		if len(codecs) > 0 {
			cfg.CodecName = codecs[0].Name()
		}
	}
}

// WithCodecName selects which registered codec name to use on the wire.
func WithCodecName(name string) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.CodecName = name }
}

// WithCompression registers a CompressionPool a client can negotiate for
// sending and receiving.
func WithCompression(pools ...CompressionPool) ClientOption {
	return func(cfg *ProtocolClientConfig) {
		existing := []CompressionPool{}
		if cfg.Compressions != nil {
			for _, name := range cfg.Compressions.Names() {
				if pool := cfg.Compressions.Get(name); pool != nil {
					existing = append(existing, pool)
				}
			}
		}
		cfg.Compressions = newCompressionRegistry(append(existing, pools...))
	}
}

// WithSendCompression picks which registered compression pool to apply to
// outgoing messages. An empty name (the default) sends uncompressed.
func WithSendCompression(name string) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.SendCompressionName = name }
}

// WithCompressMinBytes sets the smallest outgoing message size worth
// compressing; smaller messages are sent uncompressed regardless of
// WithSendCompression.
func WithCompressMinBytes(minBytes int) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.CompressMinBytes = minBytes }
}

// WithTransport supplies the Transport used to actually dispatch requests.
// Required: NewProtocolClientConfig fails without one.
func WithTransport(transport Transport) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.Transport = transport }
}

// WithInterceptors installs user interceptors, outermost first. The
// protocol interceptor (Connect/gRPC/gRPC-Web) is always installed nearest
// the transport regardless of this list's order.
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.Interceptors = interceptors }
}

// WithLogger overrides the default no-op go-kit logger.
func WithLogger(logger log.Logger) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.Logger = logger }
}

// WithUserAgent overrides the default generated User-Agent string.
func WithUserAgent(userAgent string) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.UserAgent = userAgent }
}

// WithErrorDetailParser overrides the default google.rpc.Status-backed
// ErrorDetailParser.
func WithErrorDetailParser(parser ErrorDetailParser) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.ErrorDetailParser = parser }
}

// WithGetConfiguration enables (or customizes) sending idempotent unary
// Connect calls as an HTTP GET. Ignored outside ProtocolConnect.
func WithGetConfiguration(get GetConfiguration) ClientOption {
	return func(cfg *ProtocolClientConfig) { cfg.Get = get }
}
