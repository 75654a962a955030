package app

import (
	"fmt"

	"github.com/dkeye/liveroom/internal/domain"
)

// Policy decides whether the registry and the media adapter may grow.
type Policy interface {
	AdmitRoom(current int) error
	AdmitParticipant(room domain.Room, current int) error
	AdmitTransport(roomID string, current int) error
}

// SimplePolicy enforces fixed upper bounds. A zero bound means unbounded.
type SimplePolicy struct {
	MaxRooms             int
	MaxParticipants      int
	MaxTransportsPerRoom int
}

func (p SimplePolicy) AdmitRoom(current int) error {
	if p.MaxRooms > 0 && current >= p.MaxRooms {
		return fmt.Errorf("%w: room limit %d reached", domain.ErrResourceExhausted, p.MaxRooms)
	}
	return nil
}

func (p SimplePolicy) AdmitParticipant(room domain.Room, current int) error {
	if p.MaxParticipants > 0 && current >= p.MaxParticipants {
		return fmt.Errorf("%w: room %s is full", domain.ErrResourceExhausted, room.ID)
	}
	return nil
}

func (p SimplePolicy) AdmitTransport(roomID string, current int) error {
	if p.MaxTransportsPerRoom > 0 && current >= p.MaxTransportsPerRoom {
		return fmt.Errorf("%w: transport limit reached in room %s", domain.ErrResourceExhausted, roomID)
	}
	return nil
}
