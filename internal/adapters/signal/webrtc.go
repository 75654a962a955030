package signal

import (
	"context"

	"github.com/dkeye/liveroom/internal/domain"
)

func (ctl *SignalWSController) capabilities(ctx context.Context, _ *session, req *request) (any, error) {
	return ctl.Orch.Capabilities(ctx, req.RoomID)
}

func (ctl *SignalWSController) createTransport(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.RequestTransport(ctx, req.RoomID, s.cid)
}

func (ctl *SignalWSController) connectTransport(ctx context.Context, s *session, req *request) (any, error) {
	if req.SDP == nil {
		return nil, domain.Invalid("sdp is required")
	}
	return ctl.Orch.ConnectTransport(ctx, req.RoomID, s.cid, req.TransportID, *req.SDP)
}

func (ctl *SignalWSController) renegotiate(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.Renegotiate(ctx, req.RoomID, s.cid, req.TransportID)
}

func (ctl *SignalWSController) handleAnswer(ctx context.Context, s *session, req *request) (any, error) {
	if req.SDP == nil {
		return nil, domain.Invalid("sdp is required")
	}
	if err := ctl.Orch.ApplyAnswer(ctx, req.RoomID, s.cid, req.TransportID, *req.SDP); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) handleCandidate(ctx context.Context, s *session, req *request) (any, error) {
	if req.Candidate == nil {
		return nil, domain.Invalid("candidate is required")
	}
	if err := ctl.Orch.AddICECandidate(ctx, req.RoomID, s.cid, req.TransportID, *req.Candidate); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) closeTransport(ctx context.Context, s *session, req *request) (any, error) {
	if err := ctl.Orch.CloseTransport(ctx, req.RoomID, s.cid, req.TransportID); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) produce(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.Produce(ctx, req.RoomID, s.cid, req.TransportID, req.Kind, req.RtpParameters)
}

func (ctl *SignalWSController) closeProducer(ctx context.Context, s *session, req *request) (any, error) {
	if err := ctl.Orch.CloseProducer(ctx, req.RoomID, s.cid, req.ProducerID); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) consume(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.Consume(ctx, req.RoomID, s.cid, req.TransportID, req.ProducerID, req.RtpCapabilities)
}

func (ctl *SignalWSController) pauseConsumer(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.PauseConsumer(ctx, req.RoomID, s.cid, req.ConsumerID)
}

func (ctl *SignalWSController) resumeConsumer(ctx context.Context, s *session, req *request) (any, error) {
	return ctl.Orch.ResumeConsumer(ctx, req.RoomID, s.cid, req.ConsumerID)
}

func (ctl *SignalWSController) closeConsumer(ctx context.Context, s *session, req *request) (any, error) {
	if err := ctl.Orch.CloseConsumer(ctx, req.RoomID, s.cid, req.ConsumerID); err != nil {
		return nil, err
	}
	return ack{OK: true}, nil
}

func (ctl *SignalWSController) mediaStats(_ context.Context, _ *session, req *request) (any, error) {
	return ctl.Orch.MediaStats(req.RoomID)
}

func (ctl *SignalWSController) listProducers(_ context.Context, _ *session, req *request) (any, error) {
	return ctl.Orch.ListProducers(req.RoomID)
}
