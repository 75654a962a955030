package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Router groups the peer connections of one room on one worker.
type Router struct {
	id     string
	roomID string
	worker *Worker

	mu         sync.Mutex
	producers  map[string]*Producer
	transports map[string]*Transport
	closed     bool
}

func (r *Router) ID() string     { return r.id }
func (r *Router) RoomID() string { return r.roomID }

func (r *Router) Codecs() []core.Codec {
	return append([]core.Codec(nil), r.worker.codecs...)
}

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || p.hooks.Fired() {
		return false
	}
	return core.CanConsume(p.params, caps)
}

func (r *Router) CreateTransport(_ context.Context) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errClosed
	}

	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(r.worker.iceServers),
	})
	if err != nil {
		return nil, err
	}
	t := newTransport(uuid.NewString(), r, pc)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, errClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Info().Str("module", "webrtc").Str("room", r.roomID).Str("transport", t.id).Msg("peer connection created")
	return t, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}
	r.worker.forget(r)
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
