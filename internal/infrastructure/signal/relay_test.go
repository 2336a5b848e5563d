package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
	"comlink/internal/core/services"
	"comlink/internal/infrastructure/repositories/memory"
	"comlink/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelayConfig() RelayConfig {
	return RelayConfig{
		PingInterval:   time.Second,
		PongTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		MaxRoomClients: 2,
	}
}

func startRelay(t *testing.T, tokens services.TokenService, alerts ports.AlertRepository) (*Relay, string) {
	t.Helper()
	relay := NewRelay(testRelayConfig(), tokens, alerts, nil, nil, logger.Nop())
	server := httptest.NewServer(http.HandlerFunc(relay.HandleWebSocket))
	t.Cleanup(server.Close)
	return relay, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialPeer(t *testing.T, wsURL string, peer domain.PeerID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?peer_id="+string(peer), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func joinRoom(t *testing.T, conn *websocket.Conn, room domain.RoomID, token string) JoinedPayload {
	t.Helper()
	payload, err := json.Marshal(JoinPayload{Token: token})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeJoin, Room: room, Payload: payload}))

	env := readEnvelope(t, conn)
	require.Equal(t, TypeJoined, env.Type)

	var joined JoinedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &joined))
	return joined
}

func TestJoinHandshake(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joined := joinRoom(t, alpha, "ops-1", "")
	assert.Equal(t, domain.PeerID("alpha"), joined.Peer)
	assert.Empty(t, joined.Peers)

	bravo := dialPeer(t, wsURL, "bravo")
	joined = joinRoom(t, bravo, "ops-1", "")
	assert.Equal(t, []domain.PeerID{"alpha"}, joined.Peers)

	announce := readEnvelope(t, alpha)
	assert.Equal(t, TypePeerJoined, announce.Type)
	assert.Equal(t, domain.PeerID("bravo"), announce.From)
}

func TestOfferRoutedToTarget(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")
	bravo := dialPeer(t, wsURL, "bravo")
	joinRoom(t, bravo, "ops-1", "")
	readEnvelope(t, alpha) // peer-joined

	payload, err := json.Marshal(SessionDescriptionPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	// A forged From must not survive routing.
	require.NoError(t, alpha.WriteJSON(Envelope{
		Type: TypeOffer, To: "bravo", From: "mallory", Payload: payload,
	}))

	env := readEnvelope(t, bravo)
	assert.Equal(t, TypeOffer, env.Type)
	assert.Equal(t, domain.PeerID("alpha"), env.From)

	var sdp SessionDescriptionPayload
	require.NoError(t, json.Unmarshal(env.Payload, &sdp))
	assert.Equal(t, "v=0", sdp.SDP)
}

func TestOfferWithoutTargetRejected(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")

	require.NoError(t, alpha.WriteJSON(Envelope{Type: TypeOffer}))

	env := readEnvelope(t, alpha)
	assert.Equal(t, TypeError, env.Type)
}

func TestChatBroadcastExcludesSender(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")
	bravo := dialPeer(t, wsURL, "bravo")
	joinRoom(t, bravo, "ops-1", "")
	readEnvelope(t, alpha) // peer-joined

	payload, err := json.Marshal(ChatPayload{MessageID: 1, Text: "comm check", SentAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, alpha.WriteJSON(Envelope{Type: TypeChat, Payload: payload}))

	env := readEnvelope(t, bravo)
	assert.Equal(t, TypeChat, env.Type)
	assert.Equal(t, domain.PeerID("alpha"), env.From)

	// The sender gets nothing back.
	alpha.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray Envelope
	assert.Error(t, alpha.ReadJSON(&stray))
}

func TestRoomFull(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")
	bravo := dialPeer(t, wsURL, "bravo")
	joinRoom(t, bravo, "ops-1", "")

	charlie := dialPeer(t, wsURL, "charlie")
	require.NoError(t, charlie.WriteJSON(Envelope{Type: TypeJoin, Room: "ops-1"}))

	env := readEnvelope(t, charlie)
	assert.Equal(t, TypeError, env.Type)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Contains(t, errPayload.Message, "room full")
}

func TestFrameBeforeJoinRejected(t *testing.T) {
	_, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	require.NoError(t, alpha.WriteJSON(Envelope{Type: TypeChat}))

	env := readEnvelope(t, alpha)
	assert.Equal(t, TypeError, env.Type)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Contains(t, errPayload.Message, "join")
}

func TestJoinTokenValidation(t *testing.T) {
	tokens := services.NewTokenService("relay-test-secret", time.Hour)
	_, wsURL := startRelay(t, tokens, nil)

	// A token minted for another peer is rejected.
	stolen, err := tokens.GenerateRoomToken("ops-1", "bravo")
	require.NoError(t, err)

	alpha := dialPeer(t, wsURL, "alpha")
	payload, err := json.Marshal(JoinPayload{Token: stolen})
	require.NoError(t, err)
	require.NoError(t, alpha.WriteJSON(Envelope{Type: TypeJoin, Room: "ops-1", Payload: payload}))

	env := readEnvelope(t, alpha)
	assert.Equal(t, TypeError, env.Type)

	// The rightful token admits the peer.
	granted, err := tokens.GenerateRoomToken("ops-1", "alpha")
	require.NoError(t, err)
	joined := joinRoom(t, alpha, "ops-1", granted)
	assert.Equal(t, domain.PeerID("alpha"), joined.Peer)
}

func TestNetworkAlertArchivedAndBroadcast(t *testing.T) {
	repo := memory.NewMemoryAlertRepository(10)
	_, wsURL := startRelay(t, nil, repo)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")
	bravo := dialPeer(t, wsURL, "bravo")
	joinRoom(t, bravo, "ops-1", "")
	readEnvelope(t, alpha) // peer-joined

	payload, err := json.Marshal(NetworkAlertPayload{
		Level:     domain.AlertWarning,
		Text:      "Engaging satellite relay",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, alpha.WriteJSON(Envelope{Type: TypeNetworkAlert, Payload: payload}))

	env := readEnvelope(t, bravo)
	assert.Equal(t, TypeNetworkAlert, env.Type)

	history, err := repo.History(context.Background(), "ops-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.AlertWarning, history[0].Level)
	assert.Equal(t, "Engaging satellite relay", history[0].Text)
	assert.Equal(t, domain.AlertOriginRemote, history[0].Origin)
}

func TestRoomAccountingAfterLeave(t *testing.T) {
	relay, wsURL := startRelay(t, nil, nil)

	alpha := dialPeer(t, wsURL, "alpha")
	joinRoom(t, alpha, "ops-1", "")
	bravo := dialPeer(t, wsURL, "bravo")
	joinRoom(t, bravo, "ops-2", "")

	assert.Equal(t, 2, relay.RoomCount())
	assert.Equal(t, []domain.PeerID{"alpha"}, relay.RoomOccupancy("ops-1"))

	bravo.Close()
	require.Eventually(t, func() bool {
		return relay.RoomCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}
