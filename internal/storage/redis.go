package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps one capped stream per room.
type RedisStore struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, maxLen int) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "liveroom:events:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, maxLen: int64(maxLen)}, nil
}

func (s *RedisStore) key(roomID string) string { return s.prefix + roomID }

func (s *RedisStore) Append(ctx context.Context, ev RoomEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key(ev.RoomID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, roomID string, limit int) ([]RoomEvent, error) {
	if limit <= 0 {
		limit = int(s.maxLen)
	}
	msgs, err := s.client.XRevRangeN(ctx, s.key(roomID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange: %w", err)
	}
	out := make([]RoomEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var ev RoomEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	reverse(out)
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
