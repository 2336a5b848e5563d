package services

import (
	"errors"
	"time"

	"comlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRoomMismatch = errors.New("token not valid for this room")
)

// TokenService issues and validates room access tokens. A token binds one
// peer id to one room for a limited time; the relay checks it on join when
// auth is enabled.
type TokenService interface {
	GenerateRoomToken(room domain.RoomID, peer domain.PeerID) (string, error)
	ValidateRoomToken(tokenString string, room domain.RoomID) (*RoomClaims, error)
}

type RoomClaims struct {
	Room domain.RoomID `json:"room"`
	Peer domain.PeerID `json:"peer"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) TokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *tokenService) GenerateRoomToken(room domain.RoomID, peer domain.PeerID) (string, error) {
	claims := &RoomClaims{
		Room: room,
		Peer: peer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) ValidateRoomToken(tokenString string, room domain.RoomID) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Room != room {
		return nil, ErrRoomMismatch
	}
	return claims, nil
}
