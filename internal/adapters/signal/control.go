package signal

import (
	"context"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
)

type handlerFunc func(ctx context.Context, s *session, req *request) (any, error)

// request is the union of every client message; each type reads its fields.
type request struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`

	RoomID      string      `json:"roomId,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Role        domain.Role `json:"role,omitempty"`

	ParticipantID string `json:"participantId,omitempty"`

	TransportID     string                   `json:"transportId,omitempty"`
	ProducerID      string                   `json:"producerId,omitempty"`
	ConsumerID      string                   `json:"consumerId,omitempty"`
	Kind            core.MediaKind           `json:"kind,omitempty"`
	SDP             *core.SessionDescription `json:"sdp,omitempty"`
	Candidate       *core.ICECandidate       `json:"candidate,omitempty"`
	RtpParameters   core.RtpParameters       `json:"rtpParameters"`
	RtpCapabilities core.RtpCapabilities     `json:"rtpCapabilities"`

	Reaction string `json:"reaction,omitempty"`
	Text     string `json:"text,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type response struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type ack struct {
	OK bool `json:"ok"`
}

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping":   ctl.handlePing,
		"whoami": ctl.handleWhoAmI,

		"create_room":  ctl.createRoom,
		"list_rooms":   ctl.listRooms,
		"update_room":  ctl.updateRoom,
		"join":         ctl.handleJoin,
		"leave":        ctl.handleLeave,
		"participants": ctl.participants,
		"kick":         ctl.kick,

		"capabilities":      ctl.capabilities,
		"create_transport":  ctl.createTransport,
		"connect_transport": ctl.connectTransport,
		"renegotiate":       ctl.renegotiate,
		"answer":            ctl.handleAnswer,
		"candidate":         ctl.handleCandidate,
		"close_transport":   ctl.closeTransport,
		"produce":           ctl.produce,
		"close_producer":    ctl.closeProducer,
		"consume":           ctl.consume,
		"pause_consumer":    ctl.pauseConsumer,
		"resume_consumer":   ctl.resumeConsumer,
		"close_consumer":    ctl.closeConsumer,
		"media_stats":       ctl.mediaStats,
		"list_producers":    ctl.listProducers,

		"react":   ctl.react,
		"comment": ctl.comment,
		"history": ctl.history,
	}
}

func requireRoomID(req *request) error {
	if req.RoomID == "" {
		return domain.Invalid("roomId is required")
	}
	return nil
}

func (ctl *SignalWSController) handlePing(_ context.Context, s *session, req *request) (any, error) {
	ctl.sendJSON(s.conn, struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId,omitempty"`
	}{"pong", req.RequestID})
	return nil, nil
}

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, s *session, _ *request) (any, error) {
	return struct {
		ConnectionID string `json:"connectionId"`
		UserID       string `json:"userId"`
	}{s.cid, s.userID}, nil
}
