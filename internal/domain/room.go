package domain

import "time"

const (
	MaxRoomIDLen    = 64
	MaxRoomTitleLen = 120
)

type Room struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	HostID      string    `json:"hostId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomSummary is the listing view of a room.
type RoomSummary struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	HostID           string    `json:"hostId,omitempty"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RoomUpdate carries optional metadata changes; nil fields are left as is.
type RoomUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (u RoomUpdate) Validate() error {
	if u.Title != nil && len(*u.Title) > MaxRoomTitleLen {
		return Invalid("title too long")
	}
	return nil
}

func ValidateRoomID(id string) error {
	if id == "" {
		return Invalid("room id is empty")
	}
	if len(id) > MaxRoomIDLen {
		return ErrIDTooLong
	}
	return nil
}
