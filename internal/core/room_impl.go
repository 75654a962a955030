package core

import (
	"sort"
	"sync"

	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  domain.Room
	mu    sync.RWMutex
	byCID map[string]domain.Participant
}

func NewRoomService(room domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		byCID: make(map[string]domain.Participant),
	}
}

func (r *roomImpl) Room() domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.room
}

func (r *roomImpl) Update(u domain.RoomUpdate) domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Title != nil {
		r.room.Title = *u.Title
	}
	if u.Description != nil {
		r.room.Description = *u.Description
	}
	return r.room
}

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCID)
}

// AddMember inserts or overwrites the participant of a connection.
// It reports whether the connection is new to the room.
func (r *roomImpl) AddMember(cid string, p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.byCID[cid]
	r.byCID[cid] = p
	log.Info().Str("module", "core.room").Str("room", r.room.ID).Str("cid", cid).Str("participant", p.ID).Msg("member added")
	return !existed
}

func (r *roomImpl) RemoveMember(cid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCID[cid]; !ok {
		return false
	}
	delete(r.byCID, cid)
	log.Info().Str("module", "core.room").Str("room", r.room.ID).Str("cid", cid).Msg("member removed")
	return true
}

func (r *roomImpl) HasMember(cid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCID[cid]
	return ok
}

func (r *roomImpl) ConnectionOf(participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for cid, p := range r.byCID {
		if p.ID == participantID {
			return cid, true
		}
	}
	return "", false
}

func (r *roomImpl) MembersSnapshot() []domain.Member {
	r.mu.RLock()
	out := make([]domain.Member, 0, len(r.byCID))
	for cid, p := range r.byCID {
		out = append(out, domain.Member{ConnectionID: cid, Participant: p})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant.ID == out[j].Participant.ID {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].Participant.ID < out[j].Participant.ID
	})
	return out
}

func (r *roomImpl) Participants() []domain.Participant {
	members := r.MembersSnapshot()
	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, m.Participant)
	}
	return out
}
