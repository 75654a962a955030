package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) CreateRoom(_ context.Context, id, title, description, hostID string) (domain.Room, error) {
	room, err := o.Rooms.CreateRoom(id, title, description, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	log.Info().Str("module", "orch").Str("room", id).Str("host", hostID).Msg("room created")
	return room, nil
}

func (o *Orchestrator) GetRoom(id string) (domain.Room, error) {
	return o.Rooms.GetRoom(id)
}

func (o *Orchestrator) ListRooms() []domain.RoomSummary {
	return o.Rooms.ListRooms()
}

func (o *Orchestrator) Participants(roomID string) ([]domain.Participant, error) {
	if _, err := o.requireRoom(roomID); err != nil {
		return nil, err
	}
	return o.Rooms.GetParticipants(roomID), nil
}

// UpdateRoom changes room metadata. Only the host may edit a hosted room.
func (o *Orchestrator) UpdateRoom(_ context.Context, roomID, userID string, u domain.RoomUpdate) (domain.Room, error) {
	unlock := o.locks.lock(roomID)
	defer unlock()

	room, err := o.requireRoom(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.HostID != "" && room.HostID != userID {
		return domain.Room{}, fmt.Errorf("%w: only the host may update room %s", domain.ErrRejected, roomID)
	}
	room, err = o.Rooms.UpdateRoom(roomID, u)
	if err != nil {
		return domain.Room{}, err
	}
	o.Hub.PublishToRoom(roomID, TopicRoomUpdated, RoomEvent{Type: TopicRoomUpdated, RoomID: roomID, Room: &room}, "")
	return room, nil
}

// Join adds the connection's participant to the room and returns the
// participant list and producer snapshot as of the join. No media is set up.
func (o *Orchestrator) Join(_ context.Context, roomID, connectionID string, p domain.Participant) (RoomState, error) {
	if err := p.Normalize(); err != nil {
		return RoomState{}, err
	}
	if !o.Limiter.Allow(p.ID) {
		return RoomState{}, fmt.Errorf("%w: too many join attempts", domain.ErrRateLimited)
	}

	unlock := o.locks.lock(roomID)
	defer unlock()

	room, err := o.requireRoom(roomID)
	if err != nil {
		return RoomState{}, err
	}
	if p.Role == domain.RoleHost && room.HostID != p.ID {
		return RoomState{}, fmt.Errorf("%w: %s is not the host of room %s", domain.ErrRejected, p.ID, roomID)
	}
	if err := o.requireConnection(connectionID); err != nil {
		return RoomState{}, err
	}
	room, err = o.Rooms.JoinRoom(roomID, connectionID, p)
	if err != nil {
		return RoomState{}, err
	}
	if !o.Registry.AddRoom(connectionID, roomID) {
		// disconnected while joining
		o.leaveLocked(roomID, connectionID)
		return RoomState{}, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	o.Hub.JoinRoom(connectionID, roomID)

	participants := o.Rooms.GetParticipants(roomID)
	state := RoomState{
		Room:         room,
		ConnectionID: connectionID,
		Self:         p,
		Participants: participants,
		Producers:    o.Media.ListProducers(roomID),
	}

	o.Hub.PublishToRoom(roomID, TopicParticipantJoined, ParticipantEvent{
		Type:          TopicParticipantJoined,
		RoomID:        roomID,
		ParticipantID: p.ID,
		Participant:   p,
	}, connectionID)
	o.publishViewCount(roomID, len(participants))

	log.Info().Str("module", "orch").Str("room", roomID).Str("cid", connectionID).Str("participant", p.ID).Str("role", string(p.Role)).Msg("joined")
	return state, nil
}

// Leave removes the connection from the room and closes the transports it
// owned there. Leaving twice is a no-op.
func (o *Orchestrator) Leave(_ context.Context, roomID, connectionID string) error {
	unlock := o.locks.lock(roomID)
	defer unlock()
	o.leaveLocked(roomID, connectionID)
	return nil
}

func (o *Orchestrator) leaveLocked(roomID, connectionID string) {
	for _, tid := range o.Registry.TransportsOf(connectionID, roomID) {
		o.closeTransportLocked(roomID, tid)
	}

	p, member := o.memberOf(roomID, connectionID)
	removed, deleted := o.Rooms.LeaveRoom(roomID, connectionID)
	o.Registry.RemoveRoom(connectionID, roomID)
	o.Hub.LeaveRoom(connectionID, roomID)

	if removed && member {
		o.Hub.PublishToRoom(roomID, TopicParticipantLeft, ParticipantEvent{
			Type:          TopicParticipantLeft,
			RoomID:        roomID,
			ParticipantID: p.ID,
			Participant:   p,
		}, "")
		o.publishViewCount(roomID, len(o.Rooms.GetParticipants(roomID)))
		log.Info().Str("module", "orch").Str("room", roomID).Str("cid", connectionID).Str("participant", p.ID).Msg("left")
	}
	if deleted {
		o.Media.CloseRoom(roomID)
		o.Hub.Publish(TopicRoomClosed, RoomEvent{Type: TopicRoomClosed, RoomID: roomID})
		log.Info().Str("module", "orch").Str("room", roomID).Msg("room closed")
	}
}

func (o *Orchestrator) publishViewCount(roomID string, count int) {
	o.Hub.PublishToRoom(roomID, TopicViewCount, ViewCountEvent{Type: TopicViewCount, RoomID: roomID, Count: count}, "")
}

// Kick removes a participant from roomID on behalf of the room host and
// closes every connection the participant had in that room.
func (o *Orchestrator) Kick(_ context.Context, roomID, byUserID, participantID string) error {
	unlock := o.locks.lock(roomID)
	room, err := o.requireRoom(roomID)
	if err != nil {
		unlock()
		return err
	}
	if room.HostID == "" || room.HostID != byUserID {
		unlock()
		return fmt.Errorf("%w: only the host may remove participants", domain.ErrRejected)
	}
	var kicked []string
	for _, m := range o.Rooms.Members(roomID) {
		if m.Participant.ID == participantID {
			kicked = append(kicked, m.ConnectionID)
		}
	}
	if len(kicked) == 0 {
		unlock()
		return fmt.Errorf("participant %s in room %s: %w", participantID, roomID, domain.ErrNotFound)
	}
	for _, cid := range kicked {
		if err := o.Hub.SendTo(cid, TopicKicked, RoomEvent{Type: TopicKicked, RoomID: roomID}); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("cid", cid).Msg("kick notice not delivered")
		}
		o.leaveLocked(roomID, cid)
	}
	unlock()

	// canceling runs the connection's own disconnect, which takes room locks
	for _, cid := range kicked {
		o.Registry.Cancel(cid)
	}
	log.Info().Str("module", "orch").Str("room", roomID).Str("participant", participantID).Str("by", byUserID).Int("connections", len(kicked)).Msg("kicked")
	return nil
}
