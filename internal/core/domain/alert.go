package domain

import "time"

type AlertLevel string

const (
	AlertInfo    AlertLevel = "info"
	AlertSuccess AlertLevel = "success"
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

type AlertOrigin string

const (
	AlertOriginLocal  AlertOrigin = "local"
	AlertOriginRemote AlertOrigin = "remote"
)

// Alert is one operator-facing advisory. Alerts are append-only: once created
// they are never mutated, and the log grows at the tail. IDs are monotonically
// increasing per session.
type Alert struct {
	ID        int64
	Level     AlertLevel
	Text      string
	Origin    AlertOrigin
	Broadcast bool
	Timestamp time.Time
}
