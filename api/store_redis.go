package api

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfitz/collabd/api/models"
	"github.com/ericfitz/collabd/internal/db"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a presence hash per user, an online-user set, and an edit
// operation stream trimmed to roughly streamMaxLen entries
type RedisStore struct {
	client       redis.UniversalClient
	keys         *db.RedisKeyBuilder
	streamMaxLen int64
}

// NewRedisStore creates a store; streamMaxLen <= 0 disables trimming
func NewRedisStore(client redis.UniversalClient, keyPrefix string, streamMaxLen int64) *RedisStore {
	return &RedisStore{
		client:       client,
		keys:         db.NewRedisKeyBuilder(keyPrefix),
		streamMaxLen: streamMaxLen,
	}
}

// Name implements Store
func (s *RedisStore) Name() string { return "redis" }

// UpsertPresence overwrites the user's presence hash and online membership
func (s *RedisStore) UpsertPresence(ctx context.Context, presence *models.UserPresence) error {
	element := ""
	if presence.CurrentElement != nil {
		element = *presence.CurrentElement
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.PresenceKey(presence.UserID),
			"user_id", presence.UserID,
			"status", presence.Status,
			"last_seen", presence.LastSeen.UTC().Format(time.RFC3339Nano),
			"current_element", element,
		)
		if presence.Status == string(PresenceOffline) {
			pipe.SRem(ctx, s.keys.OnlineUsersKey(), presence.UserID)
		} else {
			pipe.SAdd(ctx, s.keys.OnlineUsersKey(), presence.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert presence for %s: %w", presence.UserID, err)
	}
	return nil
}

// InsertEditOperation appends the operation to the edit stream
func (s *RedisStore) InsertEditOperation(ctx context.Context, op *models.EditOperation) error {
	elementID := ""
	if op.ElementID != nil {
		elementID = *op.ElementID
	}

	args := &redis.XAddArgs{
		Stream: s.keys.EditOperationsKey(),
		ID:     "*",
		Values: map[string]any{
			"id":             op.ID,
			"user_id":        op.UserID,
			"entity_type":    op.EntityType,
			"entity_id":      op.EntityID,
			"operation_type": op.OperationType,
			"element_id":     elementID,
			"operation_data": string(op.OperationData),
			"occurred_at":    op.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.streamMaxLen > 0 {
		args.MaxLen = s.streamMaxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append edit operation %s: %w", op.ID, err)
	}
	return nil
}

// Ping implements Store
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
