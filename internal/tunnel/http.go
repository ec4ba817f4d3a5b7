package tunnel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cometkim/dotunnel/internal/wire"
)

// hopByHopHeaders never cross the tunnel leg into the local origin.
// accept-encoding is replaced by an explicit identity value so the
// origin sends uncompressed bytes we can relay untouched.
var hopByHopHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"upgrade":           true,
	"transfer-encoding": true,
	"accept-encoding":   true,
}

// maxResponseChunk keeps each response chunk envelope safely under the
// bearer message size limit, envelope overhead included.
const maxResponseChunk = wire.SizeLimit - 4096

// handleHTTP advances one HTTP stream's state machine by one inbound
// frame.
func (s *session) handleHTTP(ctx context.Context, streamID uint32, p *wire.HTTPPayload) {
	logger := s.logger.With().Uint32("stream", streamID).Logger()

	switch {
	case p.RequestInit != nil:
		init := p.RequestInit
		if isWebSocketUpgrade(init.Headers) {
			go s.openBridge(ctx, streamID, init)
			return
		}
		pr := &pendingRequest{
			method:  init.Method,
			uri:     init.URI,
			headers: init.Headers,
			hasBody: init.HasBody,
		}
		if !s.streams.createHTTP(streamID, pr) {
			logger.Warn().Msg("duplicate request init, dropping")
		}

	case p.RequestChunk != nil:
		if !s.streams.appendBody(streamID, p.RequestChunk.Data) {
			logger.Warn().Msg("body chunk for unknown stream, dropping")
		}

	case p.RequestEnd != nil:
		pr := s.streams.takePending(streamID)
		if pr == nil {
			logger.Warn().Msg("request end for unknown stream, dropping")
			return
		}
		go s.forward(ctx, streamID, pr)

	case p.RequestAbort != nil:
		logger.Debug().Uint16("reason", p.RequestAbort.Reason).Msg("request aborted")
		s.streams.remove(streamID)

	default:
		// Response variants only travel client to server.
		logger.Warn().Msg("unsupported http frame, dropping")
	}
}

// forward replays the assembled request against the local origin and
// streams the response back through the tunnel. Any local failure
// becomes a 502 so the stream never takes the session down.
func (s *session) forward(ctx context.Context, streamID uint32, pr *pendingRequest) {
	defer s.streams.remove(streamID)

	reqCtx, cancel := context.WithTimeout(ctx, localRequestTimeout)
	defer cancel()

	var body io.Reader
	if pr.body.Len() > 0 {
		body = bytes.NewReader(pr.body.Bytes())
	}

	req, err := http.NewRequestWithContext(reqCtx, pr.method, "http://"+s.local+pr.uri, body)
	if err != nil {
		s.sendBadGateway(ctx, streamID, err)
		return
	}
	copyRequestHeaders(req.Header, pr.headers)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		s.sendBadGateway(ctx, streamID, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.sendBadGateway(ctx, streamID, err)
		return
	}

	s.sendResponse(ctx, streamID, uint16(resp.StatusCode), headersFromHTTP(resp.Header), respBody)
}

// copyRequestHeaders applies the hop-by-hop filter while copying the
// tunneled header list onto the local request. Duplicate names keep
// their relative order; header values are byte slices on the wire and
// pass through Go strings unchanged.
func copyRequestHeaders(dst http.Header, headers []wire.Header) {
	for _, h := range headers {
		if hopByHopHeaders[strings.ToLower(h.Name)] {
			continue
		}
		dst.Add(h.Name, string(h.Value))
	}
}

// headersFromHTTP converts local response headers into the wire
// representation.
func headersFromHTTP(h http.Header) []wire.Header {
	headers := make([]wire.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			headers = append(headers, wire.Header{Name: name, Value: []byte(v)})
		}
	}
	return headers
}

// sendResponse emits the ResponseInit / chunk / ResponseEnd sequence
// for one response under a single writer acquisition. Bodies that
// would overflow a single envelope are split into sequential chunks.
func (s *session) sendResponse(ctx context.Context, streamID uint32, status uint16, headers []wire.Header, body []byte) {
	payloads := []*wire.HTTPPayload{{
		ResponseInit: &wire.ResponseInit{
			Status:  status,
			Headers: headers,
			HasBody: len(body) > 0,
		},
	}}
	chunks := splitChunks(body, maxResponseChunk)
	for seq, chunk := range chunks {
		payloads = append(payloads, &wire.HTTPPayload{
			ResponseChunk: &wire.ResponseBodyChunk{
				Data: chunk,
				Seq:  uint32(seq),
				Last: seq == len(chunks)-1,
			},
		})
	}
	payloads = append(payloads, &wire.HTTPPayload{ResponseEnd: &wire.ResponseEnd{}})

	if err := s.writer.sendHTTP(ctx, streamID, payloads...); err != nil {
		s.logger.Error().Err(err).Uint32("stream", streamID).Msg("failed to write response")
	}
}

// splitChunks cuts body into pieces of at most max bytes. An empty
// body yields no chunks.
func splitChunks(body []byte, max int) [][]byte {
	var chunks [][]byte
	for len(body) > 0 {
		n := min(len(body), max)
		chunks = append(chunks, body[:n])
		body = body[n:]
	}
	return chunks
}

func (s *session) sendBadGateway(ctx context.Context, streamID uint32, cause error) {
	s.logger.Debug().Err(cause).Uint32("stream", streamID).Msg("local forward failed")
	s.sendResponse(ctx, streamID, http.StatusBadGateway, nil, []byte("Bad Gateway: "+cause.Error()))
}
