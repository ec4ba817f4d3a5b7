package tunnel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/cometkim/dotunnel/internal/wire"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsControlWait  = 10 * time.Second
	wsSinkCapacity = 64
)

// isWebSocketUpgrade reports whether a tunneled request asks for a
// WebSocket upgrade.
func isWebSocketUpgrade(headers []wire.Header) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Upgrade") && strings.EqualFold(string(h.Value), "websocket") {
			return true
		}
	}
	return false
}

// bridgeHeaders picks the inbound headers that are forwarded on the
// local handshake. The dialer supplies fresh Sec-WebSocket-Key,
// version, Connection, Upgrade and Host headers itself; extension
// negotiation with the local origin is not supported, so
// Sec-WebSocket-Extensions stays behind.
func bridgeHeaders(headers []wire.Header) http.Header {
	out := http.Header{}
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "sec-websocket-protocol", "origin":
			out.Add(h.Name, string(h.Value))
		}
	}
	return out
}

// openBridge dials the local WebSocket server for an upgrade-bearing
// RequestInit and, on success, takes over the stream with a relay task
// pair. Dial failures answer 502 through the HTTP path.
func (s *session) openBridge(ctx context.Context, streamID uint32, init *wire.RequestInit) {
	logger := s.logger.With().Uint32("stream", streamID).Str("uri", init.URI).Logger()

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, resp, err := dialer.DialContext(ctx, "ws://"+s.local+init.URI, bridgeHeaders(init.Headers))
	if err != nil {
		s.sendBadGateway(ctx, streamID, err)
		return
	}
	defer resp.Body.Close()

	sock := &localSocket{
		out:  make(chan *wire.WSFrame, wsSinkCapacity),
		done: make(chan struct{}),
	}
	if !s.streams.createWS(streamID, sock) {
		logger.Warn().Msg("duplicate websocket stream, dropping")
		conn.Close()
		return
	}

	err = s.writer.sendHTTP(ctx, streamID, &wire.HTTPPayload{
		ResponseInit: &wire.ResponseInit{
			Status:  http.StatusSwitchingProtocols,
			Headers: headersFromHTTP(resp.Header),
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to confirm upgrade")
		s.streams.remove(streamID)
		conn.Close()
		return
	}

	logger.Debug().Msg("websocket bridge open")
	go s.runBridge(ctx, streamID, conn, sock)
}

// runBridge couples the two relay pumps. The directions have different
// back-pressure sources (the bearer writer vs the local peer), so they
// stay separate tasks; when either ends, the stream is torn down.
func (s *session) runBridge(ctx context.Context, streamID uint32, conn *websocket.Conn, sock *localSocket) {
	defer s.streams.remove(streamID)
	defer close(sock.done)
	defer conn.Close()

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the blocking local read when the other pump (or the
	// session) ends first.
	go func() {
		<-bctx.Done()
		conn.Close()
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return s.pumpLocalReads(bctx, streamID, conn)
	})
	g.Go(func() error {
		defer cancel()
		return pumpLocalWrites(bctx, conn, sock)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Uint32("stream", streamID).Msg("websocket bridge closed")
	}
}

// pumpLocalReads relays every frame from the local WebSocket into the
// tunnel, opcode preserved. A clean close from the local side is
// forwarded with its close code; a broken connection surfaces as close
// code 1011 so the remote peer learns the stream died.
func (s *session) pumpLocalReads(ctx context.Context, streamID uint32, conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		return s.writer.sendWS(ctx, streamID, &wire.WSFrame{
			Fin: true, Opcode: wire.OpPing, Payload: []byte(data),
		})
	})
	conn.SetPongHandler(func(data string) error {
		return s.writer.sendWS(ctx, streamID, &wire.WSFrame{
			Fin: true, Opcode: wire.OpPong, Payload: []byte(data),
		})
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code := uint16(closeErr.Code)
				if closeErr.Code == websocket.CloseNoStatusReceived {
					code = 0
				}
				return s.writer.sendWS(ctx, streamID, &wire.WSFrame{
					Fin: true, Opcode: wire.OpClose, CloseCode: code,
				})
			}
			if ctx.Err() == nil {
				s.writer.sendWS(ctx, streamID, &wire.WSFrame{
					Fin: true, Opcode: wire.OpClose, CloseCode: websocket.CloseInternalServerErr,
				})
			}
			return err
		}

		opcode := wire.OpBinary
		if typ == websocket.TextMessage {
			opcode = wire.OpText
		}
		err = s.writer.sendWS(ctx, streamID, &wire.WSFrame{
			Fin: true, Opcode: opcode, Payload: data,
		})
		if err != nil {
			return err
		}
	}
}

// pumpLocalWrites drains the stream's sink into the local WebSocket.
// It owns all writes to the local connection apart from the handshake.
func pumpLocalWrites(ctx context.Context, conn *websocket.Conn, sock *localSocket) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-sock.out:
			deadline := time.Now().Add(wsControlWait)
			switch f.Opcode {
			case wire.OpText:
				if err := conn.WriteMessage(websocket.TextMessage, f.Payload); err != nil {
					return err
				}
			case wire.OpBinary:
				if err := conn.WriteMessage(websocket.BinaryMessage, f.Payload); err != nil {
					return err
				}
			case wire.OpPing:
				if err := conn.WriteControl(websocket.PingMessage, f.Payload, deadline); err != nil {
					return err
				}
			case wire.OpPong:
				if err := conn.WriteControl(websocket.PongMessage, f.Payload, deadline); err != nil {
					return err
				}
			case wire.OpClose:
				code := int(f.CloseCode)
				if code == 0 {
					code = websocket.CloseNoStatusReceived
				}
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
				return nil
			}
		}
	}
}

// handleWS routes an inbound tunneled frame to its stream's local
// sink. Text payloads must be valid UTF-8; unknown opcodes are
// dropped.
func (s *session) handleWS(ctx context.Context, streamID uint32, f *wire.WSFrame) {
	logger := s.logger.With().Uint32("stream", streamID).Logger()

	sock := s.streams.getWS(streamID)
	if sock == nil {
		logger.Warn().Msg("websocket frame for unknown stream, dropping")
		return
	}

	if !f.Opcode.Known() {
		logger.Warn().Uint8("opcode", uint8(f.Opcode)).Msg("unknown opcode, dropping")
		return
	}
	if f.Opcode == wire.OpText && !utf8.Valid(f.Payload) {
		logger.Warn().Msg("text frame with invalid utf-8, dropping")
		return
	}

	select {
	case sock.out <- f:
	case <-sock.done:
	case <-ctx.Done():
	}
}
