package tunnel

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/cometkim/dotunnel/internal/wire"
)

const (
	// localRequestTimeout bounds one forwarded request against the
	// local origin.
	localRequestTimeout = 30 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// ErrConfigMissing is returned when no service URL or bearer token is
// available before session start.
var ErrConfigMissing = errors.New("tunnel: service URL and token are required")

// Options configures a tunnel client. ServiceURL and Token are
// required; Subdomain is optional.
type Options struct {
	ServiceURL string
	Token      string
	LocalHost  string
	LocalPort  int
	Subdomain  string
	Logger     zerolog.Logger
}

// Client establishes tunnel sessions against the service and keeps
// them alive, forwarding tunneled traffic to the local server.
type Client struct {
	serviceURL string
	token      string
	localAddr  string
	subdomain  string

	// control talks to the service's HTTP API; local forwards
	// tunneled requests to the origin. local never auto-decodes
	// response bodies so they can be relayed raw.
	control *http.Client
	local   *http.Client

	logger zerolog.Logger
}

// NewClient validates the options and builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.ServiceURL == "" || opts.Token == "" {
		return nil, ErrConfigMissing
	}
	host := opts.LocalHost
	if host == "" {
		host = "127.0.0.1"
	}
	return &Client{
		serviceURL: strings.TrimSuffix(opts.ServiceURL, "/"),
		token:      opts.Token,
		localAddr:  fmt.Sprintf("%s:%d", host, opts.LocalPort),
		subdomain:  opts.Subdomain,
		control:    &http.Client{Timeout: 30 * time.Second},
		local: &http.Client{
			Timeout: localRequestTimeout,
			Transport: &http.Transport{
				// Relay response bytes exactly as the origin
				// produced them.
				DisableCompression: true,
			},
		},
		logger: opts.Logger,
	}, nil
}

// Run connects to the service and serves tunnel sessions until the
// context is canceled or the server closes a session cleanly. Failed
// attempts are retried with exponential backoff; the backoff resets
// whenever a fresh session reaches its event loop.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		reached, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if reached {
			backoff = initialBackoff
		}

		c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("tunnel session ended")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// tunnelInfo is the control plane's answer to a connect request.
type tunnelInfo struct {
	TunnelID  string `json:"tunnelId"`
	TunnelURL string `json:"tunnelUrl"`
	Subdomain string `json:"subdomain"`
}

// apiError is the control plane's failure body.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// allocateTunnel performs the control-plane POST that allocates or
// re-attaches to a tunnel.
func (c *Client) allocateTunnel(ctx context.Context) (*tunnelInfo, error) {
	payload := map[string]string{}
	if c.subdomain != "" {
		payload["subdomain"] = c.subdomain
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serviceURL+"/_api/tunnel/connect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build connect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.control.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("connect rejected (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("connect rejected (%d): %s", resp.StatusCode, string(respBody))
	}

	var info tunnelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode connect response: %w", err)
	}
	return &info, nil
}

// bearerURL rewrites the service URL scheme to ws(s) and appends the
// tunnel attach path.
func bearerURL(serviceURL, tunnelID string) string {
	wsURL := serviceURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	return wsURL + "/_api/tunnel/connect?tunnelId=" + tunnelID
}

// connectAndServe performs one session attempt: control-plane POST,
// bearer WebSocket handshake, then the event loop. reached reports
// whether the attempt made it to the event loop, which resets the
// supervisor's backoff.
func (c *Client) connectAndServe(ctx context.Context) (reached bool, err error) {
	info, err := c.allocateTunnel(ctx)
	if err != nil {
		return false, err
	}

	wsURL := bearerURL(c.serviceURL, info.TunnelID)
	c.logger.Debug().Str("url", wsURL).Msg("dialing bearer websocket")

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + c.token}},
	})
	if err != nil {
		return false, fmt.Errorf("dial bearer: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wire.SizeLimit)

	fmt.Printf("\nTunnel established!\n\n  %s -> http://%s\n\n", info.TunnelURL, c.localAddr)

	sess := newSession(conn, c.localAddr, c.local, c.logger)

	// A canceled context means user interrupt: close the bearer
	// cleanly so the server can release the tunnel right away.
	stop := context.AfterFunc(ctx, func() {
		conn.Close(websocket.StatusNormalClosure, "client shutdown")
	})
	defer stop()

	return true, sess.serve(ctx)
}

// session is one bearer WebSocket lifetime: a reader loop plus the
// shared state every stream handler touches.
type session struct {
	conn    *websocket.Conn
	writer  *bearerWriter
	streams *streamTable
	local   string
	client  *http.Client
	logger  zerolog.Logger
}

func newSession(conn *websocket.Conn, localAddr string, localClient *http.Client, logger zerolog.Logger) *session {
	id := uuid.New()
	// The session-scoped connection id stamped on outbound envelopes.
	connID := binary.BigEndian.Uint64(id[:8])
	return &session{
		conn:    conn,
		writer:  newBearerWriter(conn, connID),
		streams: newStreamTable(),
		local:   localAddr,
		client:  localClient,
		logger:  logger.With().Str("session", id.String()).Logger(),
	}
}

// serve is the event loop: it is the only reader of the bearer socket.
// Stream bookkeeping happens synchronously here so frames within a
// stream keep their arrival order; the blocking parts (local forward,
// bridge dial, control reply) run on their own goroutines so a slow
// local origin cannot stall the demultiplexer.
func (s *session) serve(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.Info().Msg("server closed the tunnel")
				return nil
			}
			return fmt.Errorf("read bearer: %w", err)
		}

		if typ == websocket.MessageText {
			// Advisory only, e.g. "tunnel_ready". Never parsed.
			s.logger.Debug().Str("text", string(data)).Msg("bearer text message")
			continue
		}

		env, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		s.handle(ctx, env)
	}
}

func (s *session) handle(ctx context.Context, env *wire.Envelope) {
	switch {
	case env.Control != nil:
		s.handleControl(ctx, env.Control)
	case env.HTTP != nil:
		s.handleHTTP(ctx, env.StreamID, env.HTTP)
	case env.WS != nil:
		s.handleWS(ctx, env.StreamID, env.WS)
	}
}
