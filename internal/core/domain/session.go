package domain

import "time"

type RoomID string
type PeerID string

// PeerLinkState tracks the peer transport lifecycle. It is owned by the
// transport manager and mutated only from transport callbacks.
type PeerLinkState string

const (
	PeerStateNew          PeerLinkState = "new"
	PeerStateConnecting   PeerLinkState = "connecting"
	PeerStateConnected    PeerLinkState = "connected"
	PeerStateDisconnected PeerLinkState = "disconnected"
	PeerStateFailed       PeerLinkState = "failed"
	PeerStateClosed       PeerLinkState = "closed"
)

// Recoverable reports whether renegotiation can bring the link back without
// recreating the whole session.
func (s PeerLinkState) Recoverable() bool {
	return s == PeerStateDisconnected || s == PeerStateFailed
}

type SignalingLinkState string

const (
	SignalingOnline  SignalingLinkState = "online"
	SignalingOffline SignalingLinkState = "offline"
)

// Session describes one two-party call scoped to a room token. The room token
// is chosen (or generated) at join time and is immutable for the session
// lifetime; it is the routing key for all signaling traffic.
type Session struct {
	Room     RoomID
	Peer     PeerID
	JoinedAt time.Time
}
