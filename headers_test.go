package rpccore

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersCaseInsensitiveLookup(t *testing.T) {
	h := NewHeaders()
	h.Set("User-Agent", "my-custom-user-agent")

	assert.True(t, h.Has("user-agent"))
	assert.Equal(t, "my-custom-user-agent", h.Get("USER-AGENT"))
}

func TestHeadersPreservesInsertionOrder(t *testing.T) {
	h := NewHeaders()
	h.Set("Zeta", "1")
	h.Set("Alpha", "2")
	h.Add("Zeta", "3")

	require.Equal(t, []string{"Zeta", "Alpha"}, h.Keys())
	assert.Equal(t, []string{"1", "3"}, h.Values("zeta"))
}

func TestHeadersDelRemovesFromOrder(t *testing.T) {
	h := NewHeaders()
	h.Set("A", "1")
	h.Set("B", "2")
	h.Del("a")

	assert.Equal(t, []string{"B"}, h.Keys())
	assert.False(t, h.Has("A"))
}

func TestHeadersMerge(t *testing.T) {
	a := NewHeaders()
	a.Set("X", "1")
	b := NewHeaders()
	b.Add("X", "2")
	b.Set("Y", "3")

	a.Merge(b)
	assert.Equal(t, []string{"1", "2"}, a.Values("x"))
	assert.Equal(t, "3", a.Get("y"))
}

func TestHeadersToHTTPAndBack(t *testing.T) {
	h := NewHeaders()
	h.Set("Grpc-Status", "0")
	h.Add("Grpc-Status", "dup-shouldnt-happen-but-add-anyway")

	httpHeaders := h.ToHTTP()
	assert.Equal(t, []string{"0", "dup-shouldnt-happen-but-add-anyway"}, httpHeaders[http.CanonicalHeaderKey("grpc-status")])

	back := HeadersFromHTTP(httpHeaders)
	assert.Equal(t, "0", back.Get("grpc-status"))
}
