// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36

	DefaultDisplayName = "guest"
	guestPrefix        = "guest-"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleParticipant, RoleViewer:
		return true
	}
	return false
}

// Participant is one connection's presence in a room.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Member pairs a participant with the connection that owns it.
type Member struct {
	ConnectionID string      `json:"connectionId"`
	Participant  Participant `json:"participant"`
}

// NewGuestID returns an id for participants that did not bring their own.
func NewGuestID() string {
	return guestPrefix + uuid.NewString()
}

// NewParticipant fills defaults and validates the result.
func NewParticipant(id, displayName string, role Role) (Participant, error) {
	p := Participant{ID: id, DisplayName: displayName, Role: role}
	if err := p.Normalize(); err != nil {
		return Participant{}, err
	}
	return p, nil
}

// Normalize applies defaults in place: guest id, display name and viewer role.
func (p *Participant) Normalize() error {
	if p.ID == "" {
		p.ID = NewGuestID()
	}
	if len(p.ID) > MaxParticipantIDLen {
		return ErrIDTooLong
	}
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	if len(p.DisplayName) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	if p.Role == "" {
		p.Role = RoleViewer
	}
	if !p.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}
