package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the last perRoom events of each room in process.
type MemoryStore struct {
	mu      sync.RWMutex
	perRoom int
	events  map[string][]RoomEvent
}

func NewMemoryStore(perRoom int) *MemoryStore {
	if perRoom <= 0 {
		perRoom = DefaultHistoryLimit
	}
	return &MemoryStore{perRoom: perRoom, events: make(map[string][]RoomEvent)}
}

func (s *MemoryStore) Append(_ context.Context, ev RoomEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.events[ev.RoomID], ev)
	if over := len(list) - s.perRoom; over > 0 {
		list = append([]RoomEvent(nil), list[over:]...)
	}
	s.events[ev.RoomID] = list
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, roomID string, limit int) ([]RoomEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.events[roomID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]RoomEvent, limit)
	copy(out, list[len(list)-limit:])
	return out, nil
}

// Forget drops a room's history.
func (s *MemoryStore) Forget(roomID string) {
	s.mu.Lock()
	delete(s.events, roomID)
	s.mu.Unlock()
}

func (s *MemoryStore) Close() error { return nil }
