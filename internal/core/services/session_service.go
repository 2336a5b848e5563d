package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
	"comlink/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// sessionEvent is the closed set of inputs to the session reducer. Signaling
// callbacks, transport callbacks and stats samples are funneled into a single
// queue and reduced sequentially, so core session state needs no locking of
// its own and scenarios replay deterministically in tests.
type sessionEvent interface{ isSessionEvent() }

type evSignalingUp struct{}
type evSignalingDown struct{ reason string }
type evPeerJoined struct{ peer domain.PeerID }
type evOffer struct {
	from  domain.PeerID
	offer webrtc.SessionDescription
}
type evAnswer struct{ answer webrtc.SessionDescription }
type evCandidate struct{ candidate webrtc.ICECandidateInit }
type evPeerState struct{ state domain.PeerLinkState }
type evStats struct{ sample domain.StatsSample }
type evRemoteAlert struct {
	level domain.AlertLevel
	text  string
	at    time.Time
}
type evChat struct {
	from      domain.PeerID
	text      string
	messageID int64
}

func (evSignalingUp) isSessionEvent()   {}
func (evSignalingDown) isSessionEvent() {}
func (evPeerJoined) isSessionEvent()    {}
func (evOffer) isSessionEvent()         {}
func (evAnswer) isSessionEvent()        {}
func (evCandidate) isSessionEvent()     {}
func (evPeerState) isSessionEvent()     {}
func (evStats) isSessionEvent()         {}
func (evRemoteAlert) isSessionEvent()   {}
func (evChat) isSessionEvent()          {}

// ChatMessage is one transcript entry.
type ChatMessage struct {
	ID        int64
	From      domain.PeerID
	Text      string
	Timestamp time.Time
}

// Snapshot is the read-only session view exposed to the UI and metrics.
type Snapshot struct {
	Room       domain.RoomID
	RemotePeer domain.PeerID
	Peer       domain.PeerLinkState
	Signaling  domain.SignalingLinkState
	Risk       domain.RiskAssessment
	LastStats  domain.StatsSample
	Failover   domain.FailoverState
}

// SessionService owns one two-party session: it joins the room, brokers
// offer/answer/candidate exchange, feeds stats through the risk scorer into
// the failover controller, and maintains the chat transcript. All inputs pass
// through one event queue; teardown is idempotent.
type SessionService struct {
	session   domain.Session
	signaler  ports.SignalingChannel
	transport ports.PeerTransport
	scorer    ports.RiskScorer
	failover  *FailoverService
	alerts    *AlertBus
	logger    *zap.SugaredLogger

	events    chan sessionEvent
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	remotePeer domain.PeerID
	signaling  domain.SignalingLinkState
	lastStats  domain.StatsSample
	lastRisk   domain.RiskAssessment
	chat       []ChatMessage
	nextChatID int64
}

func NewSessionService(
	session domain.Session,
	signaler ports.SignalingChannel,
	transport ports.PeerTransport,
	scorer ports.RiskScorer,
	failover *FailoverService,
	alerts *AlertBus,
	logger *zap.SugaredLogger,
) *SessionService {
	return &SessionService{
		session:   session,
		signaler:  signaler,
		transport: transport,
		scorer:    scorer,
		failover:  failover,
		alerts:    alerts,
		logger:    logger,
		events:    make(chan sessionEvent, 64),
		done:      make(chan struct{}),
		signaling: domain.SignalingOffline,
	}
}

// Start connects the signaling channel, joins the room and runs the reducer
// until the context is cancelled or Close is called.
func (s *SessionService) Start(ctx context.Context) error {
	if err := s.signaler.Connect(ctx); err != nil {
		return fmt.Errorf("signaling connect: %w", err)
	}
	if err := s.signaler.Join(s.session.Room); err != nil {
		return fmt.Errorf("join room %s: %w", s.session.Room, err)
	}
	go s.run(ctx)
	return nil
}

func (s *SessionService) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case ev := <-s.events:
			s.reduce(ctx, ev)
		}
	}
}

func (s *SessionService) reduce(ctx context.Context, ev sessionEvent) {
	switch e := ev.(type) {
	case evSignalingUp:
		s.setSignaling(domain.SignalingOnline)
		s.alerts.Push(domain.AlertInfo, "Reconnected to signaling relay.", false)
		s.failover.OnSignalingState(domain.SignalingOnline)
		if peer := s.RemotePeer(); peer != "" {
			if err := s.transport.Renegotiate(ctx); err != nil {
				s.logger.Warnw("renegotiation after signaling recovery failed", "error", err)
			}
		}

	case evSignalingDown:
		s.setSignaling(domain.SignalingOffline)
		s.alerts.Push(domain.AlertWarning,
			fmt.Sprintf("Signaling link lost (%s). Attempting auto-reconnect.", e.reason), false)
		s.failover.OnSignalingState(domain.SignalingOffline)

	case evPeerJoined:
		s.setRemotePeer(e.peer)
		s.logger.Infow("peer joined", "peer_id", e.peer)
		if err := s.transport.CreateOffer(ctx, e.peer); err != nil {
			s.logger.Warnw("offer creation failed", "peer_id", e.peer, "error", err)
		}

	case evOffer:
		s.setRemotePeer(e.from)
		if err := s.transport.CreateAnswer(ctx, e.from, e.offer); err != nil {
			s.logger.Warnw("answer creation failed", "peer_id", e.from, "error", err)
		}

	case evAnswer:
		// Late answers with no transport are expected; ApplyRemoteAnswer
		// treats them as no-ops.
		if err := s.transport.ApplyRemoteAnswer(ctx, e.answer); err != nil {
			s.logger.Warnw("applying remote answer failed", "error", err)
		}

	case evCandidate:
		if err := s.transport.ApplyRemoteCandidate(e.candidate); err != nil {
			s.logger.Debugw("applying remote candidate failed", "error", err)
		}

	case evPeerState:
		s.failover.OnPeerState(e.state)

	case evStats:
		risk := s.scorer.Assess(e.sample, s.Signaling())
		s.mu.Lock()
		s.lastStats = e.sample
		s.lastRisk = risk
		s.mu.Unlock()
		s.failover.OnAssessment(risk)

	case evRemoteAlert:
		s.alerts.PushRemote(e.level, e.text, e.at)

	case evChat:
		s.mu.Lock()
		s.chat = append(s.chat, ChatMessage{
			ID:        e.messageID,
			From:      e.from,
			Text:      e.text,
			Timestamp: time.Now(),
		})
		s.mu.Unlock()
	}
}

// SendChat sends a chat line to the room and appends it to the transcript.
func (s *SessionService) SendChat(text string) error {
	if err := validation.ValidateChatText(text); err != nil {
		return err
	}

	s.mu.Lock()
	s.nextChatID++
	id := time.Now().UnixMilli() + s.nextChatID
	s.chat = append(s.chat, ChatMessage{
		ID:        id,
		From:      s.session.Peer,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.mu.Unlock()

	return s.signaler.SendChat(text, id)
}

// Transcript returns a copy of the chat log.
func (s *SessionService) Transcript() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// Snapshot returns the current session view.
func (s *SessionService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Room:       s.session.Room,
		RemotePeer: s.remotePeer,
		Peer:       s.transport.State(),
		Signaling:  s.signaling,
		Risk:       s.lastRisk,
		LastStats:  s.lastStats,
		Failover:   s.failover.State(),
	}
}

// Close tears the session down: reducer, failover timers, transport and
// signaling link, in that order. Safe to call more than once; errors from
// closing an already-closed transport are absorbed.
func (s *SessionService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.failover.Close()
		if err := s.transport.Close(); err != nil {
			s.logger.Debugw("transport close", "error", err)
		}
		if err := s.signaler.Close(); err != nil {
			s.logger.Debugw("signaling close", "error", err)
		}
	})
}

// Event intake. Each handler wraps its input and enqueues it; when the queue
// is saturated the event is dropped with a warning rather than blocking a
// transport callback.

func (s *SessionService) HandleSignalingUp() { s.enqueue(evSignalingUp{}) }
func (s *SessionService) HandleSignalingDown(reason string) {
	s.enqueue(evSignalingDown{reason: reason})
}
func (s *SessionService) HandlePeerJoined(peer domain.PeerID) { s.enqueue(evPeerJoined{peer: peer}) }
func (s *SessionService) HandleOffer(from domain.PeerID, offer webrtc.SessionDescription) {
	s.enqueue(evOffer{from: from, offer: offer})
}
func (s *SessionService) HandleAnswer(answer webrtc.SessionDescription) {
	s.enqueue(evAnswer{answer: answer})
}
func (s *SessionService) HandleCandidate(candidate webrtc.ICECandidateInit) {
	s.enqueue(evCandidate{candidate: candidate})
}
func (s *SessionService) HandlePeerState(state domain.PeerLinkState) {
	s.enqueue(evPeerState{state: state})
}
func (s *SessionService) HandleStats(sample domain.StatsSample) {
	s.enqueue(evStats{sample: sample})
}
func (s *SessionService) HandleRemoteAlert(level domain.AlertLevel, text string, at time.Time) {
	s.enqueue(evRemoteAlert{level: level, text: text, at: at})
}
func (s *SessionService) HandleChat(from domain.PeerID, text string, messageID int64) {
	s.enqueue(evChat{from: from, text: text, messageID: messageID})
}

func (s *SessionService) enqueue(ev sessionEvent) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		s.logger.Warnw("session event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *SessionService) setSignaling(state domain.SignalingLinkState) {
	s.mu.Lock()
	s.signaling = state
	s.mu.Unlock()
}

// Signaling returns the last observed signaling link state.
func (s *SessionService) Signaling() domain.SignalingLinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaling
}

// RemotePeer returns the last known remote peer id, empty when none joined.
func (s *SessionService) RemotePeer() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePeer
}

func (s *SessionService) setRemotePeer(peer domain.PeerID) {
	s.mu.Lock()
	s.remotePeer = peer
	s.mu.Unlock()
}
