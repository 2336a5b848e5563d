package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
	"comlink/internal/core/services"
	"comlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RelayMetrics is the slice of the monitoring collector the relay reports to.
type RelayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageRouted(msgType string)
	AlertRelayed(level string)
}

// AlertFanout republishes network alerts across relay instances.
type AlertFanout interface {
	PublishAlert(ctx context.Context, room domain.RoomID, alert domain.Alert) error
}

// PresenceRegistry mirrors room membership into shared storage so occupancy
// is visible across relay instances. All calls are best-effort.
type PresenceRegistry interface {
	Register(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
	Unregister(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
	Refresh(ctx context.Context, room domain.RoomID, peer domain.PeerID) error
}

// RelayConfig carries the websocket tuning knobs for the relay.
type RelayConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRoomClients int

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

type relayClient struct {
	peer    domain.PeerID
	room    domain.RoomID
	conn    *websocket.Conn
	send    chan Envelope
	limiter *rate.Limiter
}

// Relay is the rendezvous hub. It holds rooms of at most MaxRoomClients
// peers, routes offer/answer/candidate frames point to point, broadcasts
// everything else to the rest of the room, and archives network alerts.
type Relay struct {
	cfg      RelayConfig
	tokens   services.TokenService
	alerts   ports.AlertRepository
	fanout   AlertFanout
	presence PresenceRegistry

	rooms map[domain.RoomID]map[domain.PeerID]*relayClient
	mu    sync.RWMutex

	metrics RelayMetrics
	logger  *zap.SugaredLogger
}

// NewRelay builds a relay. tokens, alerts, fanout and metrics may be nil;
// the corresponding features are skipped.
func NewRelay(cfg RelayConfig, tokens services.TokenService, alerts ports.AlertRepository, fanout AlertFanout, metrics RelayMetrics, logger *zap.SugaredLogger) *Relay {
	if cfg.MaxRoomClients < 2 {
		cfg.MaxRoomClients = 2
	}
	return &Relay{
		cfg:     cfg,
		tokens:  tokens,
		alerts:  alerts,
		fanout:  fanout,
		rooms:   make(map[domain.RoomID]map[domain.PeerID]*relayClient),
		metrics: metrics,
		logger:  logger,
	}
}

// SetPresence attaches the cross-instance presence registry. Optional; a
// single-instance relay runs without one.
func (s *Relay) SetPresence(presence PresenceRegistry) {
	s.presence = presence
}

// HandleWebSocket upgrades the request and serves the connection until it
// drops. Every connection must send a join frame first; anything else before
// join closes the connection.
func (s *Relay) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}

	rawPeer := r.URL.Query().Get("peer_id")
	if err := validation.ValidatePeerID(rawPeer); err != nil {
		s.logger.Warnw("rejected connection", "peer_id", rawPeer, "error", err)
		s.writeControlError(conn, err.Error())
		return
	}
	peerID := domain.PeerID(rawPeer)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	client := &relayClient{
		peer: peerID,
		conn: conn,
		send: make(chan Envelope, 32),
	}
	if s.cfg.RateLimitEnabled {
		client.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	done := make(chan struct{})
	go s.writePump(client, done)
	defer close(done)

	s.readLoop(client)
	s.leave(client)
}

func (s *Relay) readLoop(client *relayClient) {
	for {
		var env Envelope
		if err := client.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("connection read failed", "peer_id", client.peer, "error", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if client.limiter != nil && !client.limiter.Allow() {
			s.logger.Warnw("rate limit exceeded, dropping frame", "peer_id", client.peer, "type", env.Type)
			continue
		}

		if err := s.handleEnvelope(client, env); err != nil {
			s.logger.Infow("rejected frame", "peer_id", client.peer, "type", env.Type, "error", err)
			s.enqueue(client, mustEnvelope(TypeError, client.room, "", ErrorPayload{Message: err.Error()}))
		}
	}
}

func (s *Relay) writePump(client *relayClient, done <-chan struct{}) {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case env := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := client.conn.WriteJSON(env); err != nil {
				s.logger.Debugw("write failed", "peer_id", client.peer, "error", err)
				client.conn.Close()
				return
			}
		case <-pingTicker.C:
			client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Relay) handleEnvelope(client *relayClient, env Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("message type is required")
	}

	if env.Type == TypeJoin {
		return s.handleJoin(client, env)
	}

	if client.room == "" {
		return fmt.Errorf("must join a room first")
	}

	if s.metrics != nil {
		s.metrics.MessageRouted(env.Type)
	}

	// The relay stamps From itself so a peer cannot impersonate another.
	env.From = client.peer
	env.Room = client.room

	switch env.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if env.To == "" {
			return fmt.Errorf("%s requires a target peer", env.Type)
		}
		return s.routeTo(client.room, env.To, env)

	case TypeNetworkAlert:
		s.archiveAlert(client.room, client.peer, env.Payload)
		s.broadcast(client.room, client.peer, env)
		return nil

	case TypeChat, TypeTyping, TypeMessageStatus, TypeQuickResponse, TypeVoiceMessage:
		s.broadcast(client.room, client.peer, env)
		return nil

	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func (s *Relay) handleJoin(client *relayClient, env Envelope) error {
	if client.room != "" {
		return fmt.Errorf("already joined room %s", client.room)
	}
	if err := validation.ValidateRoomID(string(env.Room)); err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}

	var payload JoinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("invalid join payload: %w", err)
		}
	}
	if err := validation.ValidateCallsign(payload.Callsign); err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}

	if s.tokens != nil {
		claims, err := s.tokens.ValidateRoomToken(payload.Token, env.Room)
		if err != nil {
			return fmt.Errorf("room token rejected: %w", err)
		}
		if claims.Peer != client.peer {
			return fmt.Errorf("room token issued for a different peer")
		}
	}

	s.mu.Lock()
	room := s.rooms[env.Room]
	if room == nil {
		room = make(map[domain.PeerID]*relayClient)
		s.rooms[env.Room] = room
	}
	if len(room) >= s.cfg.MaxRoomClients {
		s.mu.Unlock()
		return domain.ErrRoomFull
	}
	if old, ok := room[client.peer]; ok {
		// Reconnecting peer: drop the stale connection.
		old.conn.Close()
		s.logger.Infow("closing stale connection for rejoining peer", "peer_id", client.peer, "room", env.Room)
	}
	room[client.peer] = client
	client.room = env.Room

	others := make([]domain.PeerID, 0, len(room)-1)
	for id := range room {
		if id != client.peer {
			others = append(others, id)
		}
	}
	s.mu.Unlock()

	s.logger.Infow("peer joined room", "peer_id", client.peer, "room", env.Room, "occupants", len(others)+1)

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.presence.Register(ctx, env.Room, client.peer); err != nil {
			s.logger.Debugw("presence register failed", "peer_id", client.peer, "error", err)
		}
		cancel()
	}

	s.enqueue(client, mustEnvelope(TypeJoined, env.Room, client.peer, JoinedPayload{
		Peer:  client.peer,
		Peers: others,
	}))

	announce := mustEnvelope(TypePeerJoined, env.Room, "", nil)
	announce.From = client.peer
	s.broadcast(env.Room, client.peer, announce)
	return nil
}

func (s *Relay) leave(client *relayClient) {
	if client.room == "" {
		return
	}

	s.mu.Lock()
	room := s.rooms[client.room]
	if room != nil && room[client.peer] == client {
		delete(room, client.peer)
		if len(room) == 0 {
			delete(s.rooms, client.room)
		}
	}
	s.mu.Unlock()

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.presence.Unregister(ctx, client.room, client.peer); err != nil {
			s.logger.Debugw("presence unregister failed", "peer_id", client.peer, "error", err)
		}
		cancel()
	}

	departure := mustEnvelope(TypePeerLeft, client.room, "", nil)
	departure.From = client.peer
	s.broadcast(client.room, client.peer, departure)

	s.logger.Infow("peer left room", "peer_id", client.peer, "room", client.room)
}

func (s *Relay) routeTo(room domain.RoomID, to domain.PeerID, env Envelope) error {
	s.mu.RLock()
	target := s.rooms[room][to]
	s.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("peer %s: %w", to, domain.ErrPeerNotFound)
	}
	s.enqueue(target, env)
	return nil
}

func (s *Relay) broadcast(room domain.RoomID, from domain.PeerID, env Envelope) {
	s.mu.RLock()
	clients := make([]*relayClient, 0, len(s.rooms[room]))
	for id, c := range s.rooms[room] {
		if id != from {
			clients = append(clients, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.enqueue(c, env)
	}
}

func (s *Relay) enqueue(client *relayClient, env Envelope) {
	select {
	case client.send <- env:
	default:
		// A peer that cannot drain its queue is stalled; drop the frame
		// rather than block the whole room.
		s.logger.Warnw("send queue full, dropping frame", "peer_id", client.peer, "type", env.Type)
	}
}

func (s *Relay) archiveAlert(room domain.RoomID, from domain.PeerID, payload json.RawMessage) {
	var p NetworkAlertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.Debugw("malformed network alert payload", "peer_id", from, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.AlertRelayed(string(p.Level))
	}

	alert := domain.Alert{
		ID:        p.Timestamp.UnixMilli(),
		Level:     p.Level,
		Text:      p.Text,
		Origin:    domain.AlertOriginRemote,
		Broadcast: true,
		Timestamp: p.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if s.alerts != nil {
		if err := s.alerts.Append(ctx, room, alert); err != nil {
			s.logger.Warnw("alert archive append failed", "room", room, "error", err)
		}
	}
	if s.fanout != nil {
		if err := s.fanout.PublishAlert(ctx, room, alert); err != nil {
			s.logger.Debugw("alert fanout publish failed", "room", room, "error", err)
		}
	}
}

func (s *Relay) writeControlError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	conn.WriteJSON(mustEnvelope(TypeError, "", "", ErrorPayload{Message: message}))
}

// RoomOccupancy reports the peers currently joined to a room.
func (s *Relay) RoomOccupancy(room domain.RoomID) []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		peers = append(peers, id)
	}
	return peers
}

// RefreshPresence re-arms the presence TTL for every connected peer. Driven
// by the relay's housekeeping ticker.
func (s *Relay) RefreshPresence(ctx context.Context) {
	if s.presence == nil {
		return
	}

	s.mu.RLock()
	type member struct {
		room domain.RoomID
		peer domain.PeerID
	}
	members := make([]member, 0)
	for room, clients := range s.rooms {
		for peer := range clients {
			members = append(members, member{room: room, peer: peer})
		}
	}
	s.mu.RUnlock()

	for _, m := range members {
		if err := s.presence.Refresh(ctx, m.room, m.peer); err != nil {
			s.logger.Debugw("presence refresh failed", "peer_id", m.peer, "error", err)
		}
	}
}

// RoomCount reports the number of active rooms.
func (s *Relay) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
