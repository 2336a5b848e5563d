package services

import (
	"testing"
	"time"

	"comlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.GenerateRoomToken("mission-7", "station-a")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateRoomToken(token, "mission-7")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("mission-7"), claims.Room)
	assert.Equal(t, domain.PeerID("station-a"), claims.Peer)
}

func TestRoomTokenWrongRoom(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.GenerateRoomToken("mission-7", "station-a")
	require.NoError(t, err)

	_, err = svc.ValidateRoomToken(token, "mission-8")
	assert.ErrorIs(t, err, ErrRoomMismatch)
}

func TestRoomTokenExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)

	token, err := svc.GenerateRoomToken("mission-7", "station-a")
	require.NoError(t, err)

	_, err = svc.ValidateRoomToken(token, "mission-7")
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRoomTokenTampered(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.GenerateRoomToken("mission-7", "station-a")
	require.NoError(t, err)

	_, err = svc.ValidateRoomToken(token+"x", "mission-7")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoomTokenWrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-one", time.Hour)
	verifier := NewTokenService("secret-two", time.Hour)

	token, err := issuer.GenerateRoomToken("mission-7", "station-a")
	require.NoError(t, err)

	_, err = verifier.ValidateRoomToken(token, "mission-7")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
