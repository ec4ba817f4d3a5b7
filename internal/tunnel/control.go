package tunnel

import (
	"context"

	"github.com/cometkim/dotunnel/internal/wire"
)

// handleControl services transport-level control payloads. These are
// distinct from WebSocket protocol ping/pong, which the bearer library
// answers on its own at the transport layer.
func (s *session) handleControl(ctx context.Context, p *wire.ControlPayload) {
	switch {
	case p.Ping != nil:
		pong := &wire.ControlPayload{Pong: &wire.ControlPong{Data: p.Ping.Data}}
		go func() {
			if err := s.writer.sendControl(ctx, pong); err != nil {
				s.logger.Warn().Err(err).Msg("failed to answer control ping")
			}
		}()

	case p.Pong != nil:
		s.logger.Trace().Msg("control pong")

	case p.Error != nil:
		s.logger.Error().
			Uint32("code", p.Error.Code).
			Str("message", p.Error.Message).
			Msg("server reported error")

	case p.GoAway != nil:
		// The server will close the bearer when it means it; no
		// drain protocol on top.
		s.logger.Warn().Str("reason", p.GoAway.Reason).Msg("server going away")

	case p.FlowWindowUpdate != nil:
		// Reserved in the wire format.

	default:
		s.logger.Warn().Msg("unsupported control frame, dropping")
	}
}
