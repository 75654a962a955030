package signal

import (
	"context"
)

func (ctl *SignalWSController) react(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.React(ctx, req.RoomID, s.userID, req.Reaction)
}

func (ctl *SignalWSController) comment(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.Comment(ctx, req.RoomID, s.userID, req.Text)
}

func (ctl *SignalWSController) history(ctx context.Context, _ *session, req *request) (any, error) {
	return ctl.Orch.History(ctx, req.RoomID, req.Limit)
}
