package tunnel

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cometkim/dotunnel/internal/wire"
)

func TestCopyRequestHeaders(t *testing.T) {
	dst := http.Header{}
	copyRequestHeaders(dst, []wire.Header{
		{Name: "HOST", Value: []byte("a")},
		{Name: "Connection", Value: []byte("close")},
		{Name: "upgrade", Value: []byte("websocket")},
		{Name: "Transfer-Encoding", Value: []byte("chunked")},
		{Name: "accept-encoding", Value: []byte("gzip")},
		{Name: "Authorization", Value: []byte("Bearer t")},
		{Name: "Cookie", Value: []byte("a=1")},
		{Name: "Cookie", Value: []byte("b=2")},
	})

	assert.Empty(t, dst.Values("Host"))
	assert.Empty(t, dst.Values("Connection"))
	assert.Empty(t, dst.Values("Upgrade"))
	assert.Empty(t, dst.Values("Transfer-Encoding"))
	assert.Empty(t, dst.Values("Accept-Encoding"))
	assert.Equal(t, []string{"Bearer t"}, dst.Values("Authorization"))
	assert.Equal(t, []string{"a=1", "b=2"}, dst.Values("Cookie"))
}

func TestHeadersFromHTTP(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Add("Content-Type", "text/plain")

	headers := headersFromHTTP(h)
	assert.Len(t, headers, 3)

	byName := map[string][][]byte{}
	for _, hdr := range headers {
		byName[hdr.Name] = append(byName[hdr.Name], hdr.Value)
	}
	assert.Equal(t, [][]byte{[]byte("a=1"), []byte("b=2")}, byName["Set-Cookie"])
	assert.Equal(t, [][]byte{[]byte("text/plain")}, byName["Content-Type"])
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks(nil, 10))
	assert.Equal(t, [][]byte{[]byte("abc")}, splitChunks([]byte("abc"), 10))

	body := bytes.Repeat([]byte("x"), 25)
	chunks := splitChunks(body, 10)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, body, bytes.Join(chunks, nil))
}
