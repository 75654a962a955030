package signal

import (
	"context"

	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) createRoom(ctx context.Context, s *session, req *request) (any, error) {
	id := req.RoomID
	if id == "" {
		id = xid.New().String()
	}
	desc := ""
	if req.Description != nil {
		desc = *req.Description
	}
	return ctl.Orch.CreateRoom(ctx, id, req.Title, desc, s.userID)
}

func (ctl *SignalWSController) listRooms(context.Context, *session, *request) (any, error) {
	return ctl.Orch.ListRooms(), nil
}

func (ctl *SignalWSController) updateRoom(ctx context.Context, s *session, req *request) (any, error) {
	if err := requireRoomID(req); err != nil {
		return nil, err
	}
	u := domain.RoomUpdate{Description: req.Description}
	if req.Title != "" {
		u.Title = &req.Title
	}
	return ctl.Orch.UpdateRoom(ctx, req.RoomID, s.userID, u)
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, s *session, req *request) (any, error) {
	if err := requireRoomID(req); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("cid", s.cid).Str("room_id", req.RoomID).Msg("join")
	p := domain.Participant{ID: s.userID, DisplayName: req.DisplayName, Role: req.Role}
	return ctl.Orch.Join(ctx, req.RoomID, s.cid, p)
}

// handleLeave leaves one room; the socket stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, s *session, req *request) (any, error) {
	if err := requireRoomID(req); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("cid", s.cid).Str("room_id", req.RoomID).Msg("leave")
	if err := ctl.Orch.Leave(ctx, req.RoomID, s.cid); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) participants(_ context.Context, _ *session, req *request) (any, error) {
	return ctl.Orch.Participants(req.RoomID)
}

func (ctl *SignalWSController) kick(ctx context.Context, s *session, req *request) (any, error) {
	if err := requireRoomID(req); err != nil {
		return nil, err
	}
	if req.ParticipantID == "" {
		return nil, domain.Invalid("participantId is required")
	}
	if err := ctl.Orch.Kick(ctx, req.RoomID, s.userID, req.ParticipantID); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}
