package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisAlertRepository archives alerts in a capped per-room list, newest
// first. The list survives relay restarts so operators can review what the
// link did while nobody was watching.
type RedisAlertRepository struct {
	client  *redis.Client
	prefix  string
	maxSize int64
}

func NewRedisAlertRepository(client *redis.Client, maxSize int) ports.AlertRepository {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &RedisAlertRepository{
		client:  client,
		prefix:  "comlink:room:",
		maxSize: int64(maxSize),
	}
}

func (r *RedisAlertRepository) alertsKey(room domain.RoomID) string {
	return fmt.Sprintf("%s%s:alerts", r.prefix, room)
}

func (r *RedisAlertRepository) Append(ctx context.Context, room domain.RoomID, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	key := r.alertsKey(room)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append alert to Redis: %w", err)
	}
	return nil
}

func (r *RedisAlertRepository) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Alert, error) {
	if limit <= 0 || int64(limit) > r.maxSize {
		limit = int(r.maxSize)
	}

	entries, err := r.client.LRange(ctx, r.alertsKey(room), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert history from Redis: %w", err)
	}

	alerts := make([]domain.Alert, 0, len(entries))
	for _, entry := range entries {
		var alert domain.Alert
		if err := json.Unmarshal([]byte(entry), &alert); err != nil {
			// Skip entries written by an incompatible version.
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
