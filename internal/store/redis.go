package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/jinfei29/mychat-realtime/internal/models"
)

// RedisStore keeps each session as a JSON blob under call:<id> and
// indexes participation in per-user sets under user:<id>:calls. Keys
// carry no TTL: call records are retained for history.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func callKey(id string) string      { return "call:" + id }
func userCallsKey(id string) string { return "user:" + id + ":calls" }

func (s *RedisStore) Create(ctx context.Context, call *models.CallSession, participants []string) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call %s: %w", call.ID, err)
	}

	if err := s.client.Set(ctx, callKey(call.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store call %s: %w", call.ID, err)
	}

	for _, userID := range participants {
		if err := s.client.SAdd(ctx, userCallsKey(userID), call.ID).Err(); err != nil {
			return fmt.Errorf("failed to index call %s for user %s: %w", call.ID, userID, err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.CallSession, error) {
	data, err := s.client.Get(ctx, callKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", id, err)
	}

	var call models.CallSession
	if err := json.Unmarshal([]byte(data), &call); err != nil {
		return nil, fmt.Errorf("failed to parse call %s: %w", id, err)
	}
	return &call, nil
}

func (s *RedisStore) Update(ctx context.Context, call *models.CallSession) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call %s: %w", call.ID, err)
	}
	if err := s.client.Set(ctx, callKey(call.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update call %s: %w", call.ID, err)
	}
	return nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]models.CallSession, error) {
	ids, err := s.client.SMembers(ctx, userCallsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls for user %s: %w", userID, err)
	}

	calls := make([]models.CallSession, 0, len(ids))
	for _, id := range ids {
		call, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})
	return calls, nil
}
