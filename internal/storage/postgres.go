package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_events (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS room_events_room_created_idx ON room_events (room_id, created_at DESC);
`

// PostgresStore appends room events to a single table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure room_events schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, ev RoomEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO room_events (id, room_id, kind, user_id, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, ev.ID, ev.RoomID, ev.Kind, ev.UserID, ev.Text, ev.Time.UTC())
	if err != nil {
		return fmt.Errorf("insert room event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, roomID string, limit int) ([]RoomEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, room_id, kind, user_id, body, created_at
FROM room_events
WHERE room_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query room events: %w", err)
	}
	defer rows.Close()

	var out []RoomEvent
	for rows.Next() {
		var ev RoomEvent
		if err := rows.Scan(&ev.ID, &ev.RoomID, &ev.Kind, &ev.UserID, &ev.Text, &ev.Time); err != nil {
			return nil, fmt.Errorf("scan room event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room events: %w", err)
	}
	reverse(out)
	if out == nil {
		out = []RoomEvent{}
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
