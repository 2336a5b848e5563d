package domain

import "time"

// FailoverState is the failover controller's view of the session.
// ReconnectAttempts resets to zero on successful recovery; LastAlertFired
// enforces the alert throttle window for an ongoing severe condition.
type FailoverState struct {
	RelayEngaged      bool
	ReconnectAttempts int
	LastAlertFired    time.Time
}
