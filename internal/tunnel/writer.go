package tunnel

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/cometkim/dotunnel/internal/wire"
)

// bearerWriter serializes all writes to the bearer WebSocket. Many
// stream handlers emit concurrently; the mutex guarantees envelope
// bytes never interleave and that multi-frame sequences (an HTTP
// response triple) go out back-to-back.
//
// The message sequence counter lives here too: data-plane frames take
// strictly increasing values, control replies are pinned to 0.
type bearerWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	connID uint64
	seq    uint32
}

func newBearerWriter(conn *websocket.Conn, connID uint64) *bearerWriter {
	return &bearerWriter{conn: conn, connID: connID}
}

// sendHTTP emits one or more HTTP payloads for a stream under a single
// writer acquisition.
func (w *bearerWriter) sendHTTP(ctx context.Context, streamID uint32, payloads ...*wire.HTTPPayload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range payloads {
		env := wire.NewHTTPEnvelope(w.connID, streamID, w.nextSeq(), p)
		if err := w.write(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// sendWS emits one WebSocket frame envelope for a stream.
func (w *bearerWriter) sendWS(ctx context.Context, streamID uint32, f *wire.WSFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(ctx, wire.NewWSEnvelope(w.connID, streamID, w.nextSeq(), f))
}

// sendControl emits a control payload on stream 0 with sequence 0.
func (w *bearerWriter) sendControl(ctx context.Context, p *wire.ControlPayload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(ctx, wire.NewControlEnvelope(w.connID, p))
}

func (w *bearerWriter) nextSeq() uint32 {
	w.seq++
	return w.seq
}

func (w *bearerWriter) write(ctx context.Context, env *wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageBinary, data)
}
