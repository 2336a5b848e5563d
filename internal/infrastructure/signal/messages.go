package signal

import (
	"encoding/json"
	"time"

	"comlink/internal/core/domain"
)

// Message types carried over the signaling websocket. Offer, answer and
// candidate messages are routed point to point via To; everything else is
// broadcast to the rest of the room.
const (
	TypeJoin          = "join"
	TypeJoined        = "joined"
	TypePeerJoined    = "peer-joined"
	TypePeerLeft      = "peer-left"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeChat          = "chat"
	TypeTyping        = "typing"
	TypeMessageStatus = "message-status"
	TypeQuickResponse = "quick-response"
	TypeVoiceMessage  = "voice-message"
	TypeNetworkAlert  = "network-alert"
	TypeError         = "error"
)

// Envelope is the single frame format on the wire. From is stamped by the
// relay on routed frames; clients never trust a sender-supplied From.
type Envelope struct {
	Type    string          `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Token    string `json:"token,omitempty"`
	Callsign string `json:"callsign,omitempty"`
}

type JoinedPayload struct {
	Peer  domain.PeerID   `json:"peer"`
	Peers []domain.PeerID `json:"peers"`
}

type SessionDescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type ChatPayload struct {
	MessageID int64     `json:"message_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

type TypingPayload struct {
	Active bool `json:"active"`
}

type MessageStatusPayload struct {
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

type QuickResponsePayload struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type VoiceMessagePayload struct {
	MessageID int64  `json:"message_id"`
	MimeType  string `json:"mime_type"`
	Duration  int64  `json:"duration_ms"`
	Data      []byte `json:"data"`
}

type NetworkAlertPayload struct {
	Level     domain.AlertLevel `json:"level"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func mustEnvelope(typ string, room domain.RoomID, to domain.PeerID, payload interface{}) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{Type: typ, Room: room, To: to, Payload: raw}
}
