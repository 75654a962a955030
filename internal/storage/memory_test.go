package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/liveroom/internal/domain"
)

func event(room string, i int) RoomEvent {
	return RoomEvent{
		ID:     fmt.Sprintf("e%02d", i),
		RoomID: room,
		Kind:   KindComment,
		UserID: "u1",
		Text:   fmt.Sprintf("msg %d", i),
		Time:   time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestMemoryStoreKeepsLatest(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := s.Append(ctx, event("r1", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.Recent(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 || got[0].ID != "e03" || got[2].ID != "e05" {
		t.Fatalf("unexpected history %+v", got)
	}
	got, _ = s.Recent(ctx, "r1", 2)
	if len(got) != 2 || got[0].ID != "e04" || got[1].ID != "e05" {
		t.Fatalf("limit not applied oldest-first: %+v", got)
	}
}

func TestMemoryStoreRoomsAreSeparate(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	s.Append(ctx, event("r1", 1))
	s.Append(ctx, event("r2", 2))
	got, _ := s.Recent(ctx, "r2", 10)
	if len(got) != 1 || got[0].RoomID != "r2" {
		t.Fatalf("rooms mixed: %+v", got)
	}
	s.Forget("r2")
	if got, _ := s.Recent(ctx, "r2", 10); len(got) != 0 {
		t.Fatalf("Forget kept events: %+v", got)
	}
	if got, _ := s.Recent(ctx, "missing", 10); got == nil {
		t.Fatalf("unknown room should return an empty slice")
	}
}

func TestAppendValidates(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	cases := []RoomEvent{
		{Kind: KindComment},
		{RoomID: "r1", Kind: "poll"},
	}
	for _, ev := range cases {
		if err := s.Append(ctx, ev); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("Append(%+v) = %v, want invalid argument", ev, err)
		}
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	st, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	if _, ok := st.(*MemoryStore); !ok {
		t.Fatalf("default driver should be memory, got %T", st)
	}
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("unknown driver should fail, got %v", err)
	}
	if _, err := Open(context.Background(), Config{Driver: DriverRedis}); err == nil {
		t.Fatalf("redis without addr should fail")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverPostgres}); err == nil {
		t.Fatalf("postgres without dsn should fail")
	}
}
