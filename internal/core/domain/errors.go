package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room full")
	ErrPeerNotFound     = errors.New("peer not found")
	ErrNoTransport      = errors.New("no peer transport")
	ErrSignalingOffline = errors.New("signaling link offline")
	ErrSessionClosed    = errors.New("session closed")
)
