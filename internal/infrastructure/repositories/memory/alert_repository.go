package memory

import (
	"context"
	"sync"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
)

// MemoryAlertRepository is the single-instance alert archive. Each room keeps
// a capped slice with newest alerts first, matching the Redis repository's
// ordering.
type MemoryAlertRepository struct {
	maxSize int
	rooms   map[domain.RoomID][]domain.Alert
	mu      sync.RWMutex
}

func NewMemoryAlertRepository(maxSize int) ports.AlertRepository {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryAlertRepository{
		maxSize: maxSize,
		rooms:   make(map[domain.RoomID][]domain.Alert),
	}
}

func (r *MemoryAlertRepository) Append(ctx context.Context, room domain.RoomID, alert domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alerts := append([]domain.Alert{alert}, r.rooms[room]...)
	if len(alerts) > r.maxSize {
		alerts = alerts[:r.maxSize]
	}
	r.rooms[room] = alerts
	return nil
}

func (r *MemoryAlertRepository) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alerts := r.rooms[room]
	if limit <= 0 || limit > len(alerts) {
		limit = len(alerts)
	}

	out := make([]domain.Alert, limit)
	copy(out, alerts[:limit])
	return out, nil
}
