package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerConfig carries transport construction parameters.
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}

	// NegotiationTimeout bounds how long a new transport may sit below
	// connected before it is declared failed.
	NegotiationTimeout time.Duration

	// Beacon enables the telemetry keepalive track so remote inbound
	// stats flow even when the session carries no other media.
	Beacon bool
}

// peerLink is one live peer connection with its watchdog and beacon.
type peerLink struct {
	peer     domain.PeerID
	pc       *webrtc.PeerConnection
	beacon   *Beacon
	watchdog *time.Timer
	closed   bool
}

// PeerManager owns at most one peer connection at a time. Renegotiation
// tears the current connection down and dials a fresh one; the replaced
// connection never lingers. State changes are reported through onState,
// local ICE candidates and descriptions go out through the signaler.
type PeerManager struct {
	cfg      PeerConfig
	signaler ports.SignalingChannel
	onState  func(domain.PeerLinkState)
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	current    *peerLink
	remotePeer domain.PeerID
	lastState  domain.PeerLinkState
}

func NewPeerManager(cfg PeerConfig, signaler ports.SignalingChannel, onState func(domain.PeerLinkState), logger *zap.SugaredLogger) *PeerManager {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	return &PeerManager{
		cfg:       cfg,
		signaler:  signaler,
		onState:   onState,
		logger:    logger,
		lastState: domain.PeerStateNew,
	}
}

// CreateOffer dials a fresh transport toward peer and sends the offer over
// signaling. Any existing transport is replaced.
func (m *PeerManager) CreateOffer(ctx context.Context, peer domain.PeerID) error {
	link, err := m.replaceLink(peer)
	if err != nil {
		return err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	if err := m.signaler.SendOffer(peer, offer); err != nil {
		m.logger.Warnw("offer not delivered", "peer_id", peer, "error", err)
	}
	return nil
}

// CreateAnswer accepts a remote offer on a fresh transport and sends the
// answer back.
func (m *PeerManager) CreateAnswer(ctx context.Context, peer domain.PeerID, offer webrtc.SessionDescription) error {
	link, err := m.replaceLink(peer)
	if err != nil {
		return err
	}

	if err := link.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	if err := m.signaler.SendAnswer(peer, answer); err != nil {
		m.logger.Warnw("answer not delivered", "peer_id", peer, "error", err)
	}
	return nil
}

// ApplyRemoteAnswer completes the current negotiation. An answer arriving
// after the transport it belongs to was replaced is dropped silently.
func (m *PeerManager) ApplyRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	m.mu.Lock()
	link := m.current
	m.mu.Unlock()

	if link == nil {
		m.logger.Debugw("dropping answer, no active transport")
		return nil
	}
	if link.pc.RemoteDescription() != nil {
		m.logger.Debugw("dropping answer, remote description already set")
		return nil
	}
	if err := link.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// ApplyRemoteCandidate adds a trickled candidate. Candidates for a replaced
// transport are dropped silently.
func (m *PeerManager) ApplyRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	link := m.current
	m.mu.Unlock()

	if link == nil {
		return nil
	}
	if err := link.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Renegotiate replaces the current transport with a fresh offer toward the
// last known peer.
func (m *PeerManager) Renegotiate(ctx context.Context) error {
	m.mu.Lock()
	peer := m.remotePeer
	m.mu.Unlock()

	if peer == "" {
		return domain.ErrPeerNotFound
	}
	return m.CreateOffer(ctx, peer)
}

// State returns the last reported link state.
func (m *PeerManager) State() domain.PeerLinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastState
}

// Close tears down the current transport. Idempotent.
func (m *PeerManager) Close() error {
	m.mu.Lock()
	link := m.current
	m.current = nil
	m.lastState = domain.PeerStateClosed
	m.mu.Unlock()

	if link != nil {
		m.closeLink(link)
	}
	return nil
}

// Stats reduces the current connection's stats report to one sample. The
// bool is false when there is no transport or the remote inbound report has
// not arrived yet; callers skip that cycle.
func (m *PeerManager) Stats() (domain.StatsSample, bool) {
	m.mu.Lock()
	link := m.current
	m.mu.Unlock()

	if link == nil {
		return domain.StatsSample{}, false
	}

	sample, haveRemote := reduceStatsReport(link.pc.GetStats(), time.Now())

	if !haveRemote && link.beacon != nil {
		// The remote inbound report lags the first RTP by a report
		// interval; fall back to the RTCP monitor's last reading.
		if fallback, ok := link.beacon.LastReceiverReport(); ok {
			fallback.Timestamp = sample.Timestamp
			fallback.PacketsSent = sample.PacketsSent
			return fallback, true
		}
		return domain.StatsSample{}, false
	}
	return sample, haveRemote
}

// reduceStatsReport folds a stats report into one sample: the first remote
// inbound entry supplies round trip and jitter, packet loss sums across
// remote inbound entries, packets sent across outbound entries.
func reduceStatsReport(report webrtc.StatsReport, now time.Time) (domain.StatsSample, bool) {
	sample := domain.StatsSample{Timestamp: now}
	haveRemote := false

	for _, entry := range report {
		switch s := entry.(type) {
		case webrtc.RemoteInboundRTPStreamStats:
			if !haveRemote {
				sample.RoundTripTime = time.Duration(s.RoundTripTime * float64(time.Second))
				sample.Jitter = time.Duration(s.Jitter * float64(time.Second))
			}
			sample.PacketsLost += int64(s.PacketsLost)
			haveRemote = true
		case webrtc.OutboundRTPStreamStats:
			sample.PacketsSent += int64(s.PacketsSent)
		}
	}
	return sample, haveRemote
}

// replaceLink closes any existing transport and dials a new one.
func (m *PeerManager) replaceLink(peer domain.PeerID) (*peerLink, error) {
	pc, err := m.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := &peerLink{peer: peer, pc: pc}

	if m.cfg.Beacon {
		beacon, err := NewBeacon(pc, m.logger)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach telemetry beacon: %w", err)
		}
		link.beacon = beacon
	} else {
		// ICE needs at least one negotiated channel to connect.
		if _, err := pc.CreateDataChannel("comlink-control", nil); err != nil {
			pc.Close()
			return nil, fmt.Errorf("create control channel: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signaler.SendCandidate(peer, c.ToJSON()); err != nil {
			m.logger.Debugw("candidate not delivered", "peer_id", peer, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleConnectionState(link, state)
	})

	link.watchdog = time.AfterFunc(m.cfg.NegotiationTimeout, func() {
		m.onNegotiationTimeout(link)
	})

	m.mu.Lock()
	old := m.current
	m.current = link
	m.remotePeer = peer
	m.lastState = domain.PeerStateConnecting
	m.mu.Unlock()

	if old != nil {
		m.closeLink(old)
	}

	m.report(domain.PeerStateConnecting)
	return link, nil
}

func (m *PeerManager) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   m.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if m.cfg.PortRange.Min > 0 && m.cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(m.cfg.PortRange.Min, m.cfg.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func (m *PeerManager) handleConnectionState(link *peerLink, state webrtc.PeerConnectionState) {
	m.mu.Lock()
	if m.current != link {
		// Stale callback from a replaced transport.
		m.mu.Unlock()
		return
	}
	mapped := mapPeerState(state)
	m.lastState = mapped
	if mapped == domain.PeerStateConnected && link.watchdog != nil {
		link.watchdog.Stop()
	}
	beacon := link.beacon
	m.mu.Unlock()

	m.logger.Infow("peer connection state changed", "peer_id", link.peer, "state", mapped)

	if mapped == domain.PeerStateConnected && beacon != nil {
		beacon.Start()
	}

	m.report(mapped)
}

func (m *PeerManager) onNegotiationTimeout(link *peerLink) {
	m.mu.Lock()
	if m.current != link || m.lastState == domain.PeerStateConnected {
		m.mu.Unlock()
		return
	}
	m.lastState = domain.PeerStateFailed
	m.mu.Unlock()

	m.logger.Warnw("negotiation watchdog fired", "peer_id", link.peer, "timeout", m.cfg.NegotiationTimeout)
	m.report(domain.PeerStateFailed)
}

func (m *PeerManager) closeLink(link *peerLink) {
	if link.watchdog != nil {
		link.watchdog.Stop()
	}
	if link.beacon != nil {
		link.beacon.Stop()
	}
	if err := link.pc.Close(); err != nil {
		m.logger.Debugw("peer connection close", "peer_id", link.peer, "error", err)
	}
}

func (m *PeerManager) report(state domain.PeerLinkState) {
	if m.onState != nil {
		m.onState(state)
	}
}

func mapPeerState(state webrtc.PeerConnectionState) domain.PeerLinkState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.PeerStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	default:
		return domain.PeerStateNew
	}
}
