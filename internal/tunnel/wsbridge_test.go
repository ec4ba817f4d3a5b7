package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cometkim/dotunnel/internal/wire"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	assert.True(t, isWebSocketUpgrade([]wire.Header{
		{Name: "Upgrade", Value: []byte("websocket")},
	}))
	assert.True(t, isWebSocketUpgrade([]wire.Header{
		{Name: "UPGRADE", Value: []byte("WebSocket")},
	}))
	assert.False(t, isWebSocketUpgrade([]wire.Header{
		{Name: "Upgrade", Value: []byte("h2c")},
	}))
	assert.False(t, isWebSocketUpgrade([]wire.Header{
		{Name: "Accept", Value: []byte("websocket")},
	}))
	assert.False(t, isWebSocketUpgrade(nil))
}

func TestBridgeHeaders(t *testing.T) {
	out := bridgeHeaders([]wire.Header{
		{Name: "sec-websocket-protocol", Value: []byte("chat")},
		{Name: "Origin", Value: []byte("https://app.example.com")},
		{Name: "Sec-WebSocket-Key", Value: []byte("stale-key")},
		{Name: "Sec-WebSocket-Version", Value: []byte("13")},
		{Name: "Authorization", Value: []byte("Bearer t")},
		{Name: "Host", Value: []byte("tunnel.example.com")},
	})

	assert.Equal(t, []string{"chat"}, out.Values("Sec-WebSocket-Protocol"))
	assert.Equal(t, []string{"https://app.example.com"}, out.Values("Origin"))
	assert.Empty(t, out.Values("Sec-WebSocket-Key"))
	assert.Empty(t, out.Values("Sec-WebSocket-Version"))
	assert.Empty(t, out.Values("Authorization"))
	assert.Empty(t, out.Values("Host"))
}
