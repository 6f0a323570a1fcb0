package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisDirectory stores group metadata as JSON under group:<id> with the
// member set alongside it under group:<id>:members.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func groupKey(id string) string   { return "group:" + id }
func membersKey(id string) string { return "group:" + id + ":members" }

func (d *RedisDirectory) Create(ctx context.Context, g *Group) error {
	meta := *g
	meta.Members = nil

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal group %s: %w", g.ID, err)
	}
	if err := d.client.Set(ctx, groupKey(g.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store group %s: %w", g.ID, err)
	}

	members := make([]interface{}, len(g.Members))
	for i, m := range g.Members {
		members[i] = m
	}
	if err := d.client.SAdd(ctx, membersKey(g.ID), members...).Err(); err != nil {
		return fmt.Errorf("failed to store members of group %s: %w", g.ID, err)
	}
	return nil
}

func (d *RedisDirectory) Get(ctx context.Context, id string) (*Group, error) {
	data, err := d.client.Get(ctx, groupKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", id, err)
	}

	var g Group
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("failed to parse group %s: %w", id, err)
	}

	members, err := d.client.SMembers(ctx, membersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load members of group %s: %w", id, err)
	}
	sort.Strings(members)
	g.Members = members
	return &g, nil
}
