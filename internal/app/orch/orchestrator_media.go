package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/liveroom/internal/app/sfu"
	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Capabilities returns the codecs the room's router forwards. Clients build
// their producer parameters and receive capabilities from it.
func (o *Orchestrator) Capabilities(ctx context.Context, roomID string) (core.RtpCapabilities, error) {
	if _, err := o.requireRoom(roomID); err != nil {
		return core.RtpCapabilities{}, err
	}
	router, err := o.Media.GetRouter(ctx, roomID)
	if err != nil {
		return core.RtpCapabilities{}, err
	}
	return core.RtpCapabilities{Codecs: router.Codecs()}, nil
}

// RequestTransport opens a transport owned by the connection. Local ICE
// candidates are pushed to the connection as they are gathered.
func (o *Orchestrator) RequestTransport(ctx context.Context, roomID, connectionID string) (core.TransportInfo, error) {
	unlock := o.locks.lock(roomID)
	defer unlock()

	if err := o.requireConnection(connectionID); err != nil {
		return core.TransportInfo{}, err
	}
	p, err := o.requireMember(roomID, connectionID)
	if err != nil {
		return core.TransportInfo{}, err
	}
	info, err := o.Media.CreateTransport(ctx, roomID, p.ID)
	if err != nil {
		return core.TransportInfo{}, err
	}
	if !o.Registry.AddTransport(connectionID, roomID, info.ID) {
		o.Media.RemoveTransport(roomID, info.ID)
		return core.TransportInfo{}, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}

	tid := info.ID
	err = o.Media.OnICECandidate(roomID, tid, func(c core.ICECandidate) {
		ev := CandidateEvent{Type: TopicICECandidate, RoomID: roomID, TransportID: tid, Candidate: c}
		if err := o.Hub.SendTo(connectionID, TopicICECandidate, ev); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("cid", connectionID).Str("transport", tid).Msg("candidate not delivered")
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("transport", tid).Msg("candidate forwarding")
	}
	return info, nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, roomID, connectionID, transportID string, offer core.SessionDescription) (core.SessionDescription, error) {
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return core.SessionDescription{}, err
	}
	return o.Media.ConnectTransport(ctx, roomID, transportID, offer)
}

// Renegotiate creates a server offer, needed after consumers were added.
func (o *Orchestrator) Renegotiate(ctx context.Context, roomID, connectionID, transportID string) (core.SessionDescription, error) {
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return core.SessionDescription{}, err
	}
	return o.Media.Renegotiate(ctx, roomID, transportID)
}

func (o *Orchestrator) ApplyAnswer(_ context.Context, roomID, connectionID, transportID string, answer core.SessionDescription) error {
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return err
	}
	return o.Media.ApplyAnswer(roomID, transportID, answer)
}

func (o *Orchestrator) AddICECandidate(_ context.Context, roomID, connectionID, transportID string, c core.ICECandidate) error {
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return err
	}
	return o.Media.AddICECandidate(roomID, transportID, c)
}

func (o *Orchestrator) CloseTransport(_ context.Context, roomID, connectionID, transportID string) error {
	unlock := o.locks.lock(roomID)
	defer unlock()
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return err
	}
	o.closeTransportLocked(roomID, transportID)
	return nil
}

func (o *Orchestrator) closeTransportLocked(roomID, transportID string) {
	removed := o.Media.RemoveTransport(roomID, transportID)
	o.Registry.RemoveTransport(roomID, transportID)
	for _, pid := range removed {
		o.publishProducerClosed(roomID, pid)
	}
}

func (o *Orchestrator) publishProducerClosed(roomID, producerID string) {
	o.Hub.PublishToRoom(roomID, TopicProducerClosed, ProducerEvent{
		Type:       TopicProducerClosed,
		RoomID:     roomID,
		ProducerID: producerID,
	}, "")
}

// Produce registers an inbound stream. Viewers cannot produce.
func (o *Orchestrator) Produce(ctx context.Context, roomID, connectionID, transportID string, kind core.MediaKind, params core.RtpParameters) (core.ProducerInfo, error) {
	unlock := o.locks.lock(roomID)
	defer unlock()

	p, err := o.requireMember(roomID, connectionID)
	if err != nil {
		return core.ProducerInfo{}, err
	}
	if p.Role == domain.RoleViewer {
		return core.ProducerInfo{}, fmt.Errorf("%w: viewers cannot produce", domain.ErrRejected)
	}
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return core.ProducerInfo{}, err
	}
	info, err := o.Media.Produce(ctx, roomID, transportID, kind, params)
	if err != nil {
		return core.ProducerInfo{}, err
	}
	o.Hub.PublishToRoom(roomID, TopicProducerAdded, ProducerEvent{
		Type:       TopicProducerAdded,
		RoomID:     roomID,
		ProducerID: info.ID,
		Producer:   &info,
	}, connectionID)
	return info, nil
}

func (o *Orchestrator) CloseProducer(_ context.Context, roomID, connectionID, producerID string) error {
	unlock := o.locks.lock(roomID)
	defer unlock()

	if _, err := o.requireRoom(roomID); err != nil {
		return err
	}
	var transportID string
	for _, info := range o.Media.ListProducers(roomID) {
		if info.ID == producerID {
			transportID = info.TransportID
			break
		}
	}
	if owner, ok := o.Registry.OwnerOf(roomID, transportID); transportID == "" || !ok || owner != connectionID {
		return fmt.Errorf("producer %s: %w", producerID, domain.ErrNotFound)
	}
	if !o.Media.RemoveProducer(roomID, producerID) {
		return fmt.Errorf("producer %s: %w", producerID, domain.ErrNotFound)
	}
	o.publishProducerClosed(roomID, producerID)
	return nil
}

func (o *Orchestrator) Consume(ctx context.Context, roomID, connectionID, transportID, producerID string, caps core.RtpCapabilities) (core.ConsumerInfo, error) {
	if err := o.requireTransport(roomID, connectionID, transportID); err != nil {
		return core.ConsumerInfo{}, err
	}
	return o.Media.Consume(ctx, roomID, transportID, producerID, caps)
}

// requireConsumer checks that the consumer sits on a transport connectionID
// owns.
func (o *Orchestrator) requireConsumer(roomID, connectionID, consumerID string) error {
	if _, err := o.requireRoom(roomID); err != nil {
		return err
	}
	info, err := o.Media.GetConsumer(roomID, consumerID)
	if err != nil {
		return err
	}
	if owner, ok := o.Registry.OwnerOf(roomID, info.TransportID); !ok || owner != connectionID {
		return fmt.Errorf("consumer %s: %w", consumerID, domain.ErrNotFound)
	}
	return nil
}

// PauseConsumer stops forwarding to the consumer, e.g. for a hidden tile.
func (o *Orchestrator) PauseConsumer(_ context.Context, roomID, connectionID, consumerID string) (core.ConsumerInfo, error) {
	if err := o.requireConsumer(roomID, connectionID, consumerID); err != nil {
		return core.ConsumerInfo{}, err
	}
	return o.Media.SetConsumerPaused(roomID, consumerID, true)
}

func (o *Orchestrator) ResumeConsumer(_ context.Context, roomID, connectionID, consumerID string) (core.ConsumerInfo, error) {
	if err := o.requireConsumer(roomID, connectionID, consumerID); err != nil {
		return core.ConsumerInfo{}, err
	}
	return o.Media.SetConsumerPaused(roomID, consumerID, false)
}

func (o *Orchestrator) CloseConsumer(_ context.Context, roomID, connectionID, consumerID string) error {
	if err := o.requireConsumer(roomID, connectionID, consumerID); err != nil {
		return err
	}
	if !o.Media.RemoveConsumer(roomID, consumerID) {
		return fmt.Errorf("consumer %s: %w", consumerID, domain.ErrNotFound)
	}
	return nil
}

// MediaStats counts the room's live transports, producers and consumers.
func (o *Orchestrator) MediaStats(roomID string) (sfu.RoomStats, error) {
	if _, err := o.requireRoom(roomID); err != nil {
		return sfu.RoomStats{}, err
	}
	return o.Media.Stats(roomID), nil
}

func (o *Orchestrator) ListProducers(roomID string) ([]core.ProducerInfo, error) {
	if _, err := o.requireRoom(roomID); err != nil {
		return nil, err
	}
	return o.Media.ListProducers(roomID), nil
}

// OnMediaLoss handles media the engine tore down on its own, e.g. a failed
// peer connection.
func (o *Orchestrator) OnMediaLoss(roomID string, loss sfu.Loss) {
	unlock := o.locks.lock(roomID)
	defer unlock()
	if loss.TransportID != "" {
		o.Registry.RemoveTransport(roomID, loss.TransportID)
	}
	for _, pid := range loss.Producers {
		o.publishProducerClosed(roomID, pid)
	}
	log.Info().Str("module", "orch").Str("room", roomID).Str("transport", loss.TransportID).Int("producers", len(loss.Producers)).Msg("media lost")
}
