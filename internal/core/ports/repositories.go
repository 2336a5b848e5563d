package ports

import (
	"context"

	"comlink/internal/core/domain"
)

// AlertRepository archives alerts per room. The archive is advisory: append
// failures are logged and absorbed, never surfaced to the session.
type AlertRepository interface {
	Append(ctx context.Context, room domain.RoomID, alert domain.Alert) error
	History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Alert, error)
}
