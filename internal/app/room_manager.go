package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManager is the in-memory room registry. Rooms live only as long as
// they have participants; nothing here is persisted.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]core.RoomService
	policy Policy
	now    func() time.Time
}

var _ core.RoomRegistry = (*RoomManager)(nil)

func NewRoomManager(policy Policy) *RoomManager {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &RoomManager{
		rooms:  make(map[string]core.RoomService),
		policy: policy,
		now:    time.Now,
	}
}

// CreateRoom registers a new room. A duplicate id is ErrAlreadyExists.
func (m *RoomManager) CreateRoom(id, title, description, hostID string) (domain.Room, error) {
	if err := domain.ValidateRoomID(id); err != nil {
		return domain.Room{}, err
	}
	if err := (domain.RoomUpdate{Title: &title}).Validate(); err != nil {
		return domain.Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; ok {
		return domain.Room{}, fmt.Errorf("room %s: %w", id, domain.ErrAlreadyExists)
	}
	if err := m.policy.AdmitRoom(len(m.rooms)); err != nil {
		return domain.Room{}, err
	}
	room := domain.Room{
		ID:          id,
		Title:       title,
		Description: description,
		HostID:      hostID,
		CreatedAt:   m.now().UTC(),
	}
	m.rooms[id] = core.NewRoomService(room)
	log.Info().Str("module", "app.rooms").Str("room", id).Str("host", hostID).Msg("room created")
	return room, nil
}

func (m *RoomManager) GetRoom(id string) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return rs.Room(), nil
}

func (m *RoomManager) ListRooms() []domain.RoomSummary {
	m.mu.RLock()
	out := make([]domain.RoomSummary, 0, len(m.rooms))
	for _, rs := range m.rooms {
		r := rs.Room()
		out = append(out, domain.RoomSummary{
			ID:               r.ID,
			Title:            r.Title,
			HostID:           r.HostID,
			ParticipantCount: rs.MemberCount(),
			CreatedAt:        r.CreatedAt,
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// JoinRoom inserts or overwrites the participant held by connectionID.
func (m *RoomManager) JoinRoom(roomID, connectionID string, p domain.Participant) (domain.Room, error) {
	if connectionID == "" {
		return domain.Room{}, domain.Invalid("connection id is empty")
	}
	if err := p.Normalize(); err != nil {
		return domain.Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return domain.Room{}, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if !rs.HasMember(connectionID) {
		if err := m.policy.AdmitParticipant(rs.Room(), rs.MemberCount()); err != nil {
			return domain.Room{}, err
		}
	}
	rs.AddMember(connectionID, p)
	return rs.Room(), nil
}

// LeaveRoom removes the connection's participant and deletes the room once
// it is empty. Unknown rooms and connections are a no-op.
func (m *RoomManager) LeaveRoom(roomID, connectionID string) (removed, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return false, false
	}
	removed = rs.RemoveMember(connectionID)
	if removed && rs.MemberCount() == 0 {
		delete(m.rooms, roomID)
		deleted = true
		log.Info().Str("module", "app.rooms").Str("room", roomID).Msg("room deleted, no participants left")
	}
	return removed, deleted
}

func (m *RoomManager) GetParticipants(roomID string) []domain.Participant {
	m.mu.RLock()
	rs, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return []domain.Participant{}
	}
	return rs.Participants()
}

func (m *RoomManager) Members(roomID string) []domain.Member {
	m.mu.RLock()
	rs, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return []domain.Member{}
	}
	return rs.MembersSnapshot()
}

func (m *RoomManager) UpdateRoom(roomID string, u domain.RoomUpdate) (domain.Room, error) {
	if err := u.Validate(); err != nil {
		return domain.Room{}, err
	}
	m.mu.RLock()
	rs, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return domain.Room{}, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	return rs.Update(u), nil
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// FindConnectionByParticipantID scans every room and returns the first
// match. Room counts are small, so a linear scan is fine. Callers acting on a
// specific room should use Members instead.
func (m *RoomManager) FindConnectionByParticipantID(participantID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, rs := range m.rooms {
		if cid, ok := rs.ConnectionOf(participantID); ok {
			return id, cid, nil
		}
	}
	return "", "", fmt.Errorf("participant %s: %w", participantID, domain.ErrNotFound)
}
