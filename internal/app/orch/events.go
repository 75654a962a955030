package orch

import (
	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/storage"
)

const (
	TopicParticipantJoined = "participant-joined"
	TopicParticipantLeft   = "participant-left"
	TopicViewCount         = "view-count"
	TopicProducerAdded     = "producer-added"
	TopicProducerClosed    = "producer-closed"
	TopicRoomUpdated       = "room-updated"
	TopicRoomClosed        = "room-closed"
	TopicReaction          = "reaction"
	TopicComment           = "comment"
	TopicNotification      = "notification"
	TopicICECandidate      = "ice-candidate"
	TopicKicked            = "kicked"
)

type ParticipantEvent struct {
	Type          string             `json:"type"`
	RoomID        string             `json:"roomId"`
	ParticipantID string             `json:"participantId"`
	Participant   domain.Participant `json:"participant"`
}

type ViewCountEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type ProducerEvent struct {
	Type       string             `json:"type"`
	RoomID     string             `json:"roomId"`
	ProducerID string             `json:"producerId"`
	Producer   *core.ProducerInfo `json:"producer,omitempty"`
}

type RoomEvent struct {
	Type   string       `json:"type"`
	RoomID string       `json:"roomId"`
	Room   *domain.Room `json:"room,omitempty"`
}

type ChatEvent struct {
	Type   string            `json:"type"`
	RoomID string            `json:"roomId"`
	Event  storage.RoomEvent `json:"event"`
}

type NotificationEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type CandidateEvent struct {
	Type        string            `json:"type"`
	RoomID      string            `json:"roomId"`
	TransportID string            `json:"transportId"`
	Candidate   core.ICECandidate `json:"candidate"`
}

// RoomState is what a joiner gets back: the room as of the join, including
// the producers to consume. Later changes arrive as events.
type RoomState struct {
	Room         domain.Room          `json:"room"`
	ConnectionID string               `json:"connectionId"`
	Self         domain.Participant   `json:"self"`
	Participants []domain.Participant `json:"participants"`
	Producers    []core.ProducerInfo  `json:"producers"`
}
