package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"comlink/internal/core/domain"
	"comlink/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceTTL = 5 * time.Minute
	roomSetTTL  = 10 * time.Minute
)

// RoomRegistry is the cross-instance presence table. Each relay instance
// registers the peers it hosts under a TTL; entries that are not refreshed
// expire on their own, so a crashed instance leaks nothing permanent.
type RoomRegistry struct {
	client     *redis.Client
	locks      *distributed.LockManager
	instanceID string
	logger     *zap.SugaredLogger
}

type presenceRecord struct {
	Peer         domain.PeerID `json:"peer"`
	Room         domain.RoomID `json:"room"`
	InstanceID   string        `json:"instance_id"`
	RegisteredAt int64         `json:"registered_at"`
}

func NewRoomRegistry(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RoomRegistry {
	return &RoomRegistry{
		client:     client,
		locks:      distributed.NewLockManager(client, "comlink:lock:"),
		instanceID: instanceID,
		logger:     logger,
	}
}

// Register records a peer as present in a room on this instance. The room's
// membership set is updated under a distributed lock so concurrent joins on
// different instances serialize.
func (r *RoomRegistry) Register(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	lock := r.locks.AcquireLock("room:"+string(room), 10*time.Second)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			r.logger.Debugw("room lock release failed", "room", room, "error", err)
		}
	}()

	record := presenceRecord{
		Peer:         peer,
		Room:         room,
		InstanceID:   r.instanceID,
		RegisteredAt: time.Now().Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}

	if err := r.client.Set(ctx, r.presenceKey(room, peer), data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}

	roomKey := r.roomPeersKey(room)
	if err := r.client.SAdd(ctx, roomKey, string(peer)).Err(); err != nil {
		return fmt.Errorf("add peer to room set: %w", err)
	}
	r.client.Expire(ctx, roomKey, roomSetTTL)

	instanceKey := r.instancePeersKey()
	if err := r.client.SAdd(ctx, instanceKey, r.member(room, peer)).Err(); err != nil {
		return fmt.Errorf("add peer to instance set: %w", err)
	}
	r.client.Expire(ctx, instanceKey, roomSetTTL)
	return nil
}

// Unregister removes a peer's presence.
func (r *RoomRegistry) Unregister(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	r.client.SRem(ctx, r.roomPeersKey(room), string(peer))
	r.client.SRem(ctx, r.instancePeersKey(), r.member(room, peer))
	return r.client.Del(ctx, r.presenceKey(room, peer)).Err()
}

// Refresh extends a presence entry's TTL. Called from the relay's heartbeat.
func (r *RoomRegistry) Refresh(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	if err := r.client.Expire(ctx, r.presenceKey(room, peer), presenceTTL).Err(); err != nil {
		return err
	}
	r.client.Expire(ctx, r.roomPeersKey(room), roomSetTTL)
	r.client.Expire(ctx, r.instancePeersKey(), roomSetTTL)
	return nil
}

// Occupancy lists the peers present in a room across all instances. Members
// whose presence record has expired are dropped from the set as they are
// discovered.
func (r *RoomRegistry) Occupancy(ctx context.Context, room domain.RoomID) ([]domain.PeerID, error) {
	members, err := r.client.SMembers(ctx, r.roomPeersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("room occupancy: %w", err)
	}

	peers := make([]domain.PeerID, 0, len(members))
	for _, member := range members {
		peer := domain.PeerID(member)
		exists, err := r.client.Exists(ctx, r.presenceKey(room, peer)).Result()
		if err != nil {
			return nil, fmt.Errorf("presence lookup: %w", err)
		}
		if exists == 0 {
			r.client.SRem(ctx, r.roomPeersKey(room), member)
			continue
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// CleanupInstance drops every presence entry this instance registered. Called
// on graceful shutdown.
func (r *RoomRegistry) CleanupInstance(ctx context.Context) error {
	members, err := r.client.SMembers(ctx, r.instancePeersKey()).Result()
	if err != nil {
		return fmt.Errorf("instance peers: %w", err)
	}

	for _, member := range members {
		room, peer, ok := splitMember(member)
		if !ok {
			continue
		}
		if err := r.Unregister(ctx, room, peer); err != nil {
			r.logger.Warnw("presence cleanup failed", "room", room, "peer_id", peer, "error", err)
		}
	}
	return r.client.Del(ctx, r.instancePeersKey()).Err()
}

func (r *RoomRegistry) presenceKey(room domain.RoomID, peer domain.PeerID) string {
	return fmt.Sprintf("comlink:presence:%s:%s", room, peer)
}

func (r *RoomRegistry) roomPeersKey(room domain.RoomID) string {
	return fmt.Sprintf("comlink:room:%s:peers", room)
}

func (r *RoomRegistry) instancePeersKey() string {
	return fmt.Sprintf("comlink:instance:%s:peers", r.instanceID)
}

func (r *RoomRegistry) member(room domain.RoomID, peer domain.PeerID) string {
	return string(room) + "/" + string(peer)
}

func splitMember(member string) (domain.RoomID, domain.PeerID, bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == '/' {
			return domain.RoomID(member[:i]), domain.PeerID(member[i+1:]), true
		}
	}
	return "", "", false
}
