package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"

	"go.uber.org/zap"
)

// FailoverConfig holds the failover control-loop tuning.
type FailoverConfig struct {
	AlertThrottle    time.Duration // one engagement+alert cycle per window
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	BackoffMaxExp    int
	EngageRiskScore  int
	RecoverRiskScore int
}

// DefaultFailoverConfig returns the reference tuning: 20s throttle, 1s..15s
// backoff doubling up to 2^4, engage at score 80, recover below 30.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		AlertThrottle:    20 * time.Second,
		BackoffBase:      1 * time.Second,
		BackoffCap:       15 * time.Second,
		BackoffMaxExp:    4,
		EngageRiskScore:  domain.SevereRiskScore,
		RecoverRiskScore: domain.RecoveredRiskScore,
	}
}

// FailoverService decides when to engage the backup relay and when to
// renegotiate the peer transport. It reacts to peer-state changes, signaling
// state changes and risk assessments; it is a heuristic control loop, not an
// optimal one, and its testable contract is the threshold and backoff
// arithmetic.
type FailoverService struct {
	cfg       FailoverConfig
	transport ports.Renegotiator
	alerts    ports.AlertSink
	logger    *zap.SugaredLogger

	// injectable time source and timer factory for deterministic tests
	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool

	mu          sync.Mutex
	state       domain.FailoverState
	peer        domain.PeerLinkState
	signaling   domain.SignalingLinkState
	risk        domain.RiskAssessment
	pendingStop func() bool // nil when no backoff timer is outstanding
	closed      bool
}

func NewFailoverService(
	cfg FailoverConfig,
	transport ports.Renegotiator,
	alerts ports.AlertSink,
	logger *zap.SugaredLogger,
) *FailoverService {
	return &FailoverService{
		cfg:       cfg,
		transport: transport,
		alerts:    alerts,
		logger:    logger,
		now:       time.Now,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			t := time.AfterFunc(d, fn)
			return t.Stop
		},
		peer:      domain.PeerStateNew,
		signaling: domain.SignalingOffline,
		risk:      domain.RiskAssessment{Cause: domain.CauseNominal},
	}
}

// SetClock overrides the time source and timer factory. Intended for tests.
func (s *FailoverService) SetClock(now func() time.Time, afterFunc func(time.Duration, func()) func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.afterFunc = afterFunc
}

// OnPeerState reacts to a peer transport state transition.
func (s *FailoverService) OnPeerState(state domain.PeerLinkState) {
	s.mu.Lock()
	s.peer = state

	var emit []pendingAlert
	switch {
	case state == domain.PeerStateConnected:
		s.state.ReconnectAttempts = 0
		s.cancelPendingLocked()
		if s.state.RelayEngaged && s.risk.Score < s.cfg.RecoverRiskScore {
			s.state.RelayEngaged = false
			s.logger.Infow("primary link stable, relay on standby", "risk_score", s.risk.Score)
		}
		emit = append(emit, pendingAlert{domain.AlertSuccess, "Peer link established.", false})

	case state.Recoverable():
		emit = append(emit, pendingAlert{
			domain.AlertWarning,
			fmt.Sprintf("Peer link %s. Attempting auto-recovery.", state),
			false,
		})
		s.scheduleRenegotiateLocked()
		emit = append(emit, s.evaluateLocked()...)
	}
	s.mu.Unlock()

	s.flush(emit)
}

// OnSignalingState reacts to the signaling link going online or offline.
func (s *FailoverService) OnSignalingState(state domain.SignalingLinkState) {
	s.mu.Lock()
	s.signaling = state
	if state == domain.SignalingOnline {
		s.state.ReconnectAttempts = 0
	}
	emit := s.evaluateLocked()
	s.mu.Unlock()

	s.flush(emit)
}

// OnAssessment reacts to a fresh risk assessment.
func (s *FailoverService) OnAssessment(risk domain.RiskAssessment) {
	s.mu.Lock()
	s.risk = risk
	emit := s.evaluateLocked()
	s.mu.Unlock()

	s.flush(emit)
}

// Engage forces relay engagement, bypassing the severity check (operator
// command path). The alert throttle still applies.
func (s *FailoverService) Engage(reason string) {
	s.mu.Lock()
	emit := s.fireLocked(reason)
	s.mu.Unlock()

	s.flush(emit)
}

// State returns a snapshot of the failover state.
func (s *FailoverService) State() domain.FailoverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close cancels any outstanding backoff timer. Idempotent.
func (s *FailoverService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelPendingLocked()
}

type pendingAlert struct {
	level     domain.AlertLevel
	text      string
	broadcast bool
}

func (s *FailoverService) flush(alerts []pendingAlert) {
	for _, a := range alerts {
		s.alerts.Push(a.level, a.text, a.broadcast)
	}
}

// evaluateLocked runs the severity check and, when a severe condition is live
// and the throttle window has reopened, fires one engagement+alert cycle.
func (s *FailoverService) evaluateLocked() []pendingAlert {
	severe := s.signaling != domain.SignalingOnline ||
		s.peer.Recoverable() ||
		s.risk.Score >= s.cfg.EngageRiskScore ||
		s.risk.Cause != domain.CauseNominal
	if !severe {
		return nil
	}
	return s.fireLocked(s.reasonLocked())
}

func (s *FailoverService) fireLocked(reason string) []pendingAlert {
	if s.closed {
		return nil
	}
	now := s.now()
	if now.Sub(s.state.LastAlertFired) <= s.cfg.AlertThrottle {
		return nil
	}
	s.state.LastAlertFired = now

	text := fmt.Sprintf("Primary link degraded: %s. Satellite relay active for continuity.", reason)
	if !s.state.RelayEngaged {
		s.state.RelayEngaged = true
		text = fmt.Sprintf("Primary link degraded: %s. Engaging satellite relay for continuity.", reason)
		s.logger.Warnw("engaging backup relay", "reason", reason)
	}
	s.scheduleRenegotiateLocked()

	return []pendingAlert{{domain.AlertWarning, text, true}}
}

// reasonLocked mirrors the cause-priority ordering: a non-nominal cause wins,
// then signaling outage, then peer state, then predicted instability.
func (s *FailoverService) reasonLocked() string {
	switch {
	case s.risk.Cause != domain.CauseNominal:
		return s.risk.Cause.Description()
	case s.signaling != domain.SignalingOnline:
		return domain.CauseSignalingOutage.Description()
	case s.peer.Recoverable():
		return fmt.Sprintf("peer connection %s", s.peer)
	default:
		return "predicted link instability (risk high)"
	}
}

// scheduleRenegotiateLocked arms the backoff timer. A new request while one
// timer is outstanding is a no-op; at most one renegotiation is ever pending.
func (s *FailoverService) scheduleRenegotiateLocked() {
	if s.pendingStop != nil || s.closed {
		return
	}

	attempt := s.state.ReconnectAttempts + 1
	exp := attempt - 1
	if exp > s.cfg.BackoffMaxExp {
		exp = s.cfg.BackoffMaxExp
	}
	delay := s.cfg.BackoffBase * (1 << exp)
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}

	s.logger.Debugw("renegotiation scheduled", "attempt", attempt, "delay", delay)
	s.pendingStop = s.afterFunc(delay, func() { s.renegotiate(attempt) })
}

func (s *FailoverService) renegotiate(attempt int) {
	s.mu.Lock()
	s.pendingStop = nil
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.ReconnectAttempts = attempt
	s.mu.Unlock()

	s.alerts.Push(domain.AlertInfo, fmt.Sprintf("Renegotiation attempt #%d started.", attempt), false)
	if err := s.transport.Renegotiate(context.Background()); err != nil {
		s.logger.Warnw("renegotiation failed", "attempt", attempt, "error", err)
	}
}

func (s *FailoverService) cancelPendingLocked() {
	if s.pendingStop != nil {
		s.pendingStop()
		s.pendingStop = nil
	}
}
