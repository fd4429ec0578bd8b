package rpccore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGzipPoolRoundTrip(t *testing.T) {
	pool := NewGzipPool(0)
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compression to matter")

	compressed, err := pool.Compress(payload)
	require.NoError(t, err)
	require.NotEqual(t, payload, compressed)

	decompressed, err := pool.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}

func TestCompressionRegistryNegotiation(t *testing.T) {
	reg := newCompressionRegistry([]CompressionPool{NewGzipPool(0)})

	require.ElementsMatch(t, []string{"gzip", "identity"}, reg.Names())

	pool, err := negotiateResponseCompression(reg, "gzip")
	require.NoError(t, err)
	require.Equal(t, "gzip", pool.Name())

	pool, err = negotiateResponseCompression(reg, "identity")
	require.NoError(t, err)
	require.Nil(t, pool)

	_, err = negotiateResponseCompression(reg, "brotli")
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeInternal, rpcErr.Code())
}
