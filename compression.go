package rpccore

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
)

const compressionIdentity = "identity"

// CompressionPool is a named, symmetric compressor. Implementations must be
// safe for concurrent use; the registry and every protocol client share a
// single instance per name across all calls.
type CompressionPool interface {
	Name() string
	MinBytes() int
	Compress(payload []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// gzipPool is the default "gzip" CompressionPool, backed by
// klauspost/compress/gzip rather than the standard library's compress/gzip
// for the same reason the rest of this codebase's lineage does: a
// meaningfully faster drop-in implementation of the same format.
type gzipPool struct {
	minBytes int
	writers  sync.Pool
	readers  sync.Pool
}

// NewGzipPool returns a CompressionPool named "gzip". minBytes is only
// reported back by MinBytes; PackEnvelope and the protocol client take
// their compression threshold from their own minBytes argument and
// ProtocolClientConfig.CompressMinBytes, not from the pool.
func NewGzipPool(minBytes int) CompressionPool {
	pool := &gzipPool{minBytes: minBytes}
	pool.writers.New = func() any { return gzip.NewWriter(io.Discard) }
	return pool
}

func (p *gzipPool) Name() string   { return "gzip" }
func (p *gzipPool) MinBytes() int  { return p.minBytes }

func (p *gzipPool) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, _ := p.writers.Get().(*gzip.Writer)
	defer p.writers.Put(writer)
	writer.Reset(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *gzipPool) Decompress(payload []byte) ([]byte, error) {
	reader, ok := p.readers.Get().(*gzip.Reader)
	if !ok {
		var err error
		reader, err = gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip new reader: %w", err)
		}
	} else if err := reader.Reset(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("gzip reset: %w", err)
	}
	defer p.readers.Put(reader)
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// identityPool is a no-op CompressionPool, used when a peer explicitly
// negotiates "identity" encoding.
type identityPool struct{}

func (identityPool) Name() string                         { return compressionIdentity }
func (identityPool) MinBytes() int                        { return 0 }
func (identityPool) Compress(payload []byte) ([]byte, error)   { return payload, nil }
func (identityPool) Decompress(payload []byte) ([]byte, error) { return payload, nil }

// compressionRegistry holds every CompressionPool a client was configured
// with, keyed by name. It is built once at client construction and never
// mutated afterward.
type compressionRegistry struct {
	pools map[string]CompressionPool
}

func newCompressionRegistry(pools []CompressionPool) *compressionRegistry {
	reg := &compressionRegistry{pools: make(map[string]CompressionPool, len(pools)+1)}
	reg.pools[compressionIdentity] = identityPool{}
	for _, pool := range pools {
		reg.pools[pool.Name()] = pool
	}
	return reg
}

// Get returns the pool registered under name, or nil if name is unknown or
// "identity".
func (r *compressionRegistry) Get(name string) CompressionPool {
	if name == "" || name == compressionIdentity {
		return nil
	}
	return r.pools[name]
}

// Contains reports whether name was registered (including "identity").
func (r *compressionRegistry) Contains(name string) bool {
	_, ok := r.pools[name]
	return ok
}

// Names returns every registered pool name in deterministic, sorted order,
// suitable for an Accept-Encoding/Grpc-Accept-Encoding header.
func (r *compressionRegistry) Names() []string {
	names := lo.Keys(r.pools)
	sort.Strings(names)
	return names
}

// CommaSeparated renders Names as a single comma-separated header value.
func (r *compressionRegistry) CommaSeparated() string {
	names := r.Names()
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ","
		}
		out += name
	}
	return out
}

// negotiateResponseCompression returns the registered pool for the single
// encoding name the peer chose for its response, or nil for "" and
// "identity". The name is not split on commas. An unrecognized encoding is
// a protocol error.
func negotiateResponseCompression(reg *compressionRegistry, name string) (CompressionPool, error) {
	if name == "" || name == compressionIdentity {
		return nil, nil
	}
	if pool := reg.Get(name); pool != nil {
		return pool, nil
	}
	return nil, NewError(CodeInternal, fmt.Errorf("unknown compression %q", name))
}
