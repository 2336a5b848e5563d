package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"comlink/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType labels a cross-instance event.
type EventType string

const (
	EventAlertRelayed EventType = "alert.relayed"
	EventPeerJoined   EventType = "peer.joined"
	EventPeerLeft     EventType = "peer.left"
)

// Event is one frame on the inter-relay bus. Events published by an instance
// are also received by it; consumers filter on InstanceID.
type Event struct {
	Type       EventType     `json:"type"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Room       domain.RoomID `json:"room,omitempty"`
	Peer       domain.PeerID `json:"peer_id,omitempty"`
	Alert      *domain.Alert `json:"alert,omitempty"`
}

// EventBus fans events out across relay instances over Redis pub/sub, so an
// alert archived on one instance is visible to peers connected to another.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channel    string
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channel:    "comlink:events",
	}
}

// Publish sends an event to the bus, stamping instance and timestamp.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room", event.Room,
		"peer_id", event.Peer,
	)
	return nil
}

// PublishAlert publishes a relayed alert. Satisfies the relay's fanout hook.
func (eb *EventBus) PublishAlert(ctx context.Context, room domain.RoomID, alert domain.Alert) error {
	return eb.Publish(ctx, &Event{
		Type:  EventAlertRelayed,
		Room:  room,
		Alert: &alert,
	})
}

// Subscribe consumes events until the context is cancelled. Events published
// by this instance are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(&event); err != nil {
				eb.logger.Warnw("event handler failed",
					"type", event.Type,
					"room", event.Room,
					"error", err,
				)
			}
		}
	}
}
