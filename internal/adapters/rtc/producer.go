package rtc

import (
	"context"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Producer is registered by signaling before or after its remote track
// shows up; media flows once both sides met.
type Producer struct {
	id          string
	transportID string
	kind        core.MediaKind
	params      core.RtpParameters
	worker      *Worker

	relay  *relay
	hooks  core.CloseHooks
	ctx    context.Context
	cancel context.CancelFunc
}

func newProducer(id, transportID string, kind core.MediaKind, params core.RtpParameters, w *Worker) *Producer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Producer{
		id:          id,
		transportID: transportID,
		kind:        kind,
		params:      params,
		worker:      w,
		relay:       newRelay(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *Producer) ID() string                        { return p.id }
func (p *Producer) Kind() core.MediaKind              { return p.kind }
func (p *Producer) TransportID() string               { return p.transportID }
func (p *Producer) RtpParameters() core.RtpParameters { return p.params }
func (p *Producer) OnClose(fn func())                 { p.hooks.Add(fn) }

func (p *Producer) Close() {
	p.cancel()
	if p.hooks.Fire() {
		p.relay.killAll()
		log.Info().Str("module", "webrtc").Str("producer", p.id).Msg("producer closed")
	}
}

// matches reports whether a remote track with mid and kind feeds p.
func (p *Producer) matches(mid string, kind core.MediaKind) bool {
	if p.params.MID != "" {
		return p.params.MID == mid
	}
	return p.kind == kind
}

// bind starts forwarding the remote track. The producer closes when the
// track ends.
func (p *Producer) bind(track *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "webrtc").
		Str("producer", p.id).
		Str("track", track.ID()).
		Str("codec", track.Codec().MimeType).
		Logger()
	logger.Info().Msg("remote track bound")
	go func() {
		_ = p.relay.run(p.ctx, track, &logger, p.worker.fail)
		p.Close()
	}()
}
