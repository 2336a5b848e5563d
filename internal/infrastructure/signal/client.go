package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Handler receives decoded signaling events. Callbacks run on the client's
// read goroutine; implementations must not block.
type Handler struct {
	OnUp         func()
	OnDown       func(reason string)
	OnPeerJoined func(peer domain.PeerID)
	OnPeerLeft   func(peer domain.PeerID)
	OnOffer      func(from domain.PeerID, offer webrtc.SessionDescription)
	OnAnswer     func(from domain.PeerID, answer webrtc.SessionDescription)
	OnCandidate  func(from domain.PeerID, candidate webrtc.ICECandidateInit)
	OnChat       func(from domain.PeerID, messageID int64, text string, sentAt time.Time)
	OnAlert      func(from domain.PeerID, level domain.AlertLevel, text string, at time.Time)
}

// ClientConfig carries the station-side signaling knobs.
type ClientConfig struct {
	RelayURL       string
	Peer           domain.PeerID
	Token          string
	Callsign       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// Reconnect backoff. MaxAttempts < 0 retries until Close.
	Reconnect retry.Config
}

// Client is the station's websocket link to the relay. It reconnects with
// exponential backoff after a drop, rejoins its room automatically, and
// drops outbound frames while the link is offline.
type Client struct {
	cfg     ClientConfig
	handler Handler
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	conn  *websocket.Conn
	room  domain.RoomID
	state domain.SignalingLinkState

	// writeMu serializes outbound frames; gorilla permits at most one
	// concurrent writer per connection.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(cfg ClientConfig, handler Handler, logger *zap.SugaredLogger) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		state:   domain.SignalingOffline,
		done:    make(chan struct{}),
	}
}

// Connect dials the relay and starts the read/reconnect loop. It returns
// after the first successful dial; later drops are handled internally.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = domain.SignalingOnline
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %w", c.cfg.RelayURL, err)
	}
	q := u.Query()
	q.Set("peer_id", string(c.cfg.Peer))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Host, err)
	}
	return conn, nil
}

// Join sends the join frame and remembers the room for rejoin-on-reconnect.
func (c *Client) Join(room domain.RoomID) error {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	return c.send(mustEnvelope(TypeJoin, room, "", JoinPayload{
		Token:    c.cfg.Token,
		Callsign: c.cfg.Callsign,
	}))
}

func (c *Client) SendOffer(to domain.PeerID, offer webrtc.SessionDescription) error {
	return c.send(mustEnvelope(TypeOffer, c.currentRoom(), to, SessionDescriptionPayload{
		Type: offer.Type.String(),
		SDP:  offer.SDP,
	}))
}

func (c *Client) SendAnswer(to domain.PeerID, answer webrtc.SessionDescription) error {
	return c.send(mustEnvelope(TypeAnswer, c.currentRoom(), to, SessionDescriptionPayload{
		Type: answer.Type.String(),
		SDP:  answer.SDP,
	}))
}

func (c *Client) SendCandidate(to domain.PeerID, candidate webrtc.ICECandidateInit) error {
	return c.send(mustEnvelope(TypeICECandidate, c.currentRoom(), to, ICECandidatePayload{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}))
}

func (c *Client) SendChat(text string, messageID int64) error {
	return c.send(mustEnvelope(TypeChat, c.currentRoom(), "", ChatPayload{
		MessageID: messageID,
		Text:      text,
		SentAt:    time.Now(),
	}))
}

func (c *Client) SendAlert(level domain.AlertLevel, text string, at time.Time) error {
	return c.send(mustEnvelope(TypeNetworkAlert, c.currentRoom(), "", NetworkAlertPayload{
		Level:     level,
		Text:      text,
		Timestamp: at,
	}))
}

// State reports the current link state.
func (c *Client) State() domain.SignalingLinkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the reconnect loop and closes the connection. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.state = domain.SignalingOffline
		c.mu.Unlock()
	})
	return nil
}

// send writes a frame to the relay. When the link is offline the frame is
// dropped and ErrSignalingOffline returned; callers treat that as best-effort
// delivery, not a failure.
func (c *Client) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	online := c.state == domain.SignalingOnline
	c.mu.Unlock()

	if !online || conn == nil {
		return domain.ErrSignalingOffline
	}

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s frame: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	if c.handler.OnUp != nil {
		c.handler.OnUp()
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.onDisconnect(err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) onDisconnect(cause error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	c.state = domain.SignalingOffline
	c.conn = nil
	c.mu.Unlock()

	c.logger.Warnw("signaling link dropped", "error", cause)
	if c.handler.OnDown != nil {
		c.handler.OnDown(cause.Error())
	}

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		if c.cfg.Reconnect.MaxAttempts >= 0 && attempt > c.cfg.Reconnect.MaxAttempts {
			c.logger.Errorw("signaling reconnect attempts exhausted", "attempts", attempt)
			return
		}

		delay := retry.Delay(c.cfg.Reconnect, attempt)
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Infow("signaling reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = domain.SignalingOnline
		room := c.room
		c.mu.Unlock()

		c.logger.Infow("signaling link restored", "attempt", attempt+1)

		if room != "" {
			if err := c.Join(room); err != nil {
				c.logger.Warnw("rejoin after reconnect failed", "room", room, "error", err)
			}
		}

		go c.readLoop(conn)
		return
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypeJoined:
		var p JoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Debugw("malformed joined payload", "error", err)
			return
		}
		// Peers already present initiate toward us; nothing to do here
		// beyond logging the roster.
		c.logger.Infow("joined room", "room", env.Room, "peers", p.Peers)

	case TypePeerJoined:
		if c.handler.OnPeerJoined != nil {
			c.handler.OnPeerJoined(env.From)
		}

	case TypePeerLeft:
		if c.handler.OnPeerLeft != nil {
			c.handler.OnPeerLeft(env.From)
		}

	case TypeOffer:
		if sd, ok := c.decodeSessionDescription(env); ok && c.handler.OnOffer != nil {
			c.handler.OnOffer(env.From, sd)
		}

	case TypeAnswer:
		if sd, ok := c.decodeSessionDescription(env); ok && c.handler.OnAnswer != nil {
			c.handler.OnAnswer(env.From, sd)
		}

	case TypeICECandidate:
		var p ICECandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Debugw("malformed candidate payload", "error", err)
			return
		}
		if c.handler.OnCandidate != nil {
			c.handler.OnCandidate(env.From, webrtc.ICECandidateInit{
				Candidate:     p.Candidate,
				SDPMid:        p.SDPMid,
				SDPMLineIndex: p.SDPMLineIndex,
			})
		}

	case TypeChat:
		var p ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Debugw("malformed chat payload", "error", err)
			return
		}
		if c.handler.OnChat != nil {
			c.handler.OnChat(env.From, p.MessageID, p.Text, p.SentAt)
		}

	case TypeNetworkAlert:
		var p NetworkAlertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Debugw("malformed network alert payload", "error", err)
			return
		}
		if c.handler.OnAlert != nil {
			c.handler.OnAlert(env.From, p.Level, p.Text, p.Timestamp)
		}

	case TypeError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warnw("relay rejected a frame", "message", p.Message)

	case TypeTyping, TypeMessageStatus, TypeQuickResponse, TypeVoiceMessage:
		// Auxiliary room traffic; the station has no UI for these yet.
		c.logger.Debugw("ignoring auxiliary frame", "type", env.Type, "from", env.From)

	default:
		c.logger.Debugw("ignoring unknown frame", "type", env.Type)
	}
}

func (c *Client) decodeSessionDescription(env Envelope) (webrtc.SessionDescription, bool) {
	var p SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.logger.Debugw("malformed session description payload", "type", env.Type, "error", err)
		return webrtc.SessionDescription{}, false
	}
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}, true
}

func (c *Client) currentRoom() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}
