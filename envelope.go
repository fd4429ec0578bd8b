package rpccore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Envelope flag bits. gRPC only ever sets flagCompressed; Connect streaming
// and gRPC-Web each overload a different second bit to signal the terminal,
// trailer-carrying frame of a stream: Connect streaming uses bit 0b10,
// gRPC-Web uses bit 0x80.
const (
	flagCompressed        uint8 = 0b00000001
	flagConnectEndStream  uint8 = 0b00000010
	flagGRPCWebTrailer    uint8 = 0b10000000
	envelopePrefixLength        = 5
)

// EnvelopedMessage is one logical message wrapped in the 5-byte envelope
// framing shared by gRPC, gRPC-Web, and Connect streaming: a 1-byte flag set
// followed by a big-endian uint32 length and that many bytes of payload.
type EnvelopedMessage struct {
	Flags   uint8
	Payload []byte
}

// IsCompressed reports whether flags has the compressed bit set.
func IsCompressed(flags uint8) bool { return flags&flagCompressed != 0 }

// IsConnectEndStream reports whether flags marks a Connect streaming
// end-of-stream frame.
func IsConnectEndStream(flags uint8) bool { return flags&flagConnectEndStream != 0 }

// IsGRPCWebTrailer reports whether flags marks a gRPC-Web trailer frame.
func IsGRPCWebTrailer(flags uint8) bool { return flags&flagGRPCWebTrailer != 0 }

// PackEnvelope compresses payload (if pool is non-nil and payload is at
// least minBytes long) and writes it as a single enveloped frame, folding in
// any additional protocol-specific flags (e.g. flagGRPCWebTrailer) the
// caller already set on extraFlags.
func PackEnvelope(payload []byte, pool CompressionPool, minBytes int, extraFlags uint8) ([]byte, error) {
	flags := extraFlags
	body := payload
	if pool != nil && len(payload) >= minBytes {
		compressed, err := pool.Compress(payload)
		if err != nil {
			return nil, NewError(CodeInternal, fmt.Errorf("compress envelope: %w", err))
		}
		body = compressed
		flags |= flagCompressed
	}
	out := make([]byte, envelopePrefixLength+len(body))
	out[0] = flags
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out, nil
}

// UnpackEnvelopeHeader reads one complete enveloped frame from buf, which
// must hold at least the 5-byte prefix plus the advertised payload length.
// It returns the flags and the (decompressed, if applicable) payload.
// A compressed flag with a nil pool is a protocol error: the sender
// announced compression the receiver never advertised support for.
func UnpackEnvelopeHeader(buf []byte, pool CompressionPool) (uint8, []byte, error) {
	if len(buf) < envelopePrefixLength {
		return 0, nil, NewError(CodeInvalidArgument, fmt.Errorf("protocol error: incomplete envelope prefix: got %d bytes", len(buf)))
	}
	flags := buf[0]
	length := binary.BigEndian.Uint32(buf[1:5])
	if uint32(len(buf)-envelopePrefixLength) < length {
		return 0, nil, NewError(CodeInvalidArgument, fmt.Errorf(
			"protocol error: promised %d bytes in enveloped message, got %d bytes", length, len(buf)-envelopePrefixLength))
	}
	payload := buf[envelopePrefixLength : envelopePrefixLength+length]
	if IsCompressed(flags) {
		if pool == nil {
			return 0, nil, NewError(CodeInternal, fmt.Errorf("protocol error: sent compressed message without a negotiated compressor"))
		}
		decompressed, err := pool.Decompress(payload)
		if err != nil {
			return 0, nil, NewError(CodeInternal, fmt.Errorf("decompress envelope: %w", err))
		}
		return flags, decompressed, nil
	}
	return flags, append([]byte(nil), payload...), nil
}

// envelopeWriter frames and optionally compresses outgoing stream messages
// one at a time, returning each frame as a byte slice for the caller to
// send, mirroring connect-go's own envelopeWriter.
type envelopeWriter struct {
	codec            Codec
	pool             CompressionPool
	compressMinBytes int
}

func (w *envelopeWriter) marshal(message any) ([]byte, error) {
	raw, err := w.codec.Serialize(message)
	if err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("marshal message: %w", err))
	}
	return PackEnvelope(raw, w.pool, w.compressMinBytes, 0)
}

// envelopeReader incrementally consumes a byte stream, splitting it into
// complete envelopes. Bytes are accumulated in buf until at least one full
// frame (prefix + payload) is available.
type envelopeReader struct {
	pool CompressionPool
	buf  bytes.Buffer
}

// feed appends newly-read transport bytes to the internal buffer.
func (r *envelopeReader) feed(chunk []byte) {
	r.buf.Write(chunk)
}

// next pops one complete envelope off the buffer, if one is available. ok is
// false when more bytes are needed.
func (r *envelopeReader) next() (flags uint8, payload []byte, ok bool, err error) {
	raw := r.buf.Bytes()
	if len(raw) < envelopePrefixLength {
		return 0, nil, false, nil
	}
	length := binary.BigEndian.Uint32(raw[1:5])
	total := envelopePrefixLength + int(length)
	if len(raw) < total {
		return 0, nil, false, nil
	}
	flags, payload, err = UnpackEnvelopeHeader(raw[:total], r.pool)
	if err != nil {
		return 0, nil, false, err
	}
	r.buf.Next(total)
	return flags, payload, true, nil
}
