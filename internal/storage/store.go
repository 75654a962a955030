// Package storage keeps the reaction and comment history of rooms. Live room
// state is never written here.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/liveroom/internal/domain"
)

const (
	KindReaction = "reaction"
	KindComment  = "comment"
)

// RoomEvent is one persisted side-channel message.
type RoomEvent struct {
	ID     string    `json:"id"`
	RoomID string    `json:"roomId"`
	Kind   string    `json:"kind"`
	UserID string    `json:"userId,omitempty"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// EventStore appends room events and reads back the latest ones, oldest
// first.
type EventStore interface {
	Append(ctx context.Context, ev RoomEvent) error
	Recent(ctx context.Context, roomID string, limit int) ([]RoomEvent, error)
	Close() error
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Config struct {
	Driver       string         `mapstructure:"driver"`
	HistoryLimit int            `mapstructure:"history_limit"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"

	DefaultHistoryLimit = 200
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (EventStore, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryStore(cfg.HistoryLimit), nil
	case DriverRedis:
		return NewRedisStore(ctx, cfg.Redis, cfg.HistoryLimit)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", domain.ErrInvalidArgument, cfg.Driver)
	}
}

func validate(ev RoomEvent) error {
	if ev.RoomID == "" {
		return domain.Invalid("event room id is empty")
	}
	if ev.Kind != KindReaction && ev.Kind != KindComment {
		return domain.Invalid("unknown event kind")
	}
	return nil
}

func reverse(events []RoomEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
