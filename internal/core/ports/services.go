package ports

import (
	"context"
	"time"

	"comlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalingChannel is the station's out-of-band link to the rendezvous relay.
// Send methods drop silently when the link is offline; delivery is
// best-effort.
type SignalingChannel interface {
	Connect(ctx context.Context) error
	Join(room domain.RoomID) error
	SendOffer(to domain.PeerID, offer webrtc.SessionDescription) error
	SendAnswer(to domain.PeerID, answer webrtc.SessionDescription) error
	SendCandidate(to domain.PeerID, candidate webrtc.ICECandidateInit) error
	SendChat(text string, messageID int64) error
	SendAlert(level domain.AlertLevel, text string, at time.Time) error
	State() domain.SignalingLinkState
	Close() error
}

// PeerTransport owns at most one peer connection per session. Renegotiation
// replaces the current transport, never composes with it. Connectivity loss is
// reported through the state callback, not as an error.
type PeerTransport interface {
	CreateOffer(ctx context.Context, peer domain.PeerID) error
	CreateAnswer(ctx context.Context, peer domain.PeerID, offer webrtc.SessionDescription) error
	ApplyRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	ApplyRemoteCandidate(candidate webrtc.ICECandidateInit) error
	Renegotiate(ctx context.Context) error
	State() domain.PeerLinkState
	Close() error
}

// Renegotiator is the slice of PeerTransport the failover controller drives.
type Renegotiator interface {
	Renegotiate(ctx context.Context) error
}

// AlertSink receives operator-facing advisories.
type AlertSink interface {
	Push(level domain.AlertLevel, text string, broadcast bool) domain.Alert
}

// RiskScorer maps a stats sample and the signaling state to a risk assessment.
type RiskScorer interface {
	Assess(sample domain.StatsSample, signaling domain.SignalingLinkState) domain.RiskAssessment
}

// StatsSource yields the current reduction of transport statistics. The bool
// is false when no transport exists or the stats call failed; that cycle is
// skipped without an error.
type StatsSource interface {
	Stats() (domain.StatsSample, bool)
}
