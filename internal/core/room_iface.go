package core

import (
	"github.com/dkeye/liveroom/internal/domain"
)

// RoomService is one room's membership set.
// It never touches transport resources.
type RoomService interface {
	Room() domain.Room
	Update(u domain.RoomUpdate) domain.Room
	MemberCount() int
	MembersSnapshot() []domain.Member
	Participants() []domain.Participant

	AddMember(connectionID string, p domain.Participant) (added bool)
	RemoveMember(connectionID string) (removed bool)
	HasMember(connectionID string) bool
	ConnectionOf(participantID string) (string, bool)
}

// RoomRegistry owns every live room. Implementations must be safe for
// concurrent use.
type RoomRegistry interface {
	CreateRoom(id, title, description, hostID string) (domain.Room, error)
	GetRoom(id string) (domain.Room, error)
	ListRooms() []domain.RoomSummary
	JoinRoom(roomID, connectionID string, p domain.Participant) (domain.Room, error)
	LeaveRoom(roomID, connectionID string) (removed, deleted bool)
	GetParticipants(roomID string) []domain.Participant
	Members(roomID string) []domain.Member
	UpdateRoom(roomID string, u domain.RoomUpdate) (domain.Room, error)
	FindConnectionByParticipantID(participantID string) (roomID, connectionID string, err error)
	Count() int
}
