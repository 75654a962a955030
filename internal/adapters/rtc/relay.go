package rtc

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// rtpSource is the part of webrtc.TrackRemote the relay reads from.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// relay copies every packet of one remote track to all live out-tracks.
type relay struct {
	mu        sync.RWMutex
	outTracks map[string]*outTrack
}

func newRelay() *relay {
	return &relay{outTracks: make(map[string]*outTrack)}
}

func (r *relay) add(consumerID string, ot *outTrack) {
	r.mu.Lock()
	r.outTracks[consumerID] = ot
	r.mu.Unlock()
}

func (r *relay) kill(consumerID string) {
	r.mu.RLock()
	ot, ok := r.outTracks[consumerID]
	r.mu.RUnlock()
	if ok {
		ot.Kill()
	}
}

func (r *relay) get(consumerID string) (*outTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumerID]
	return ot, ok
}

func (r *relay) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

func (r *relay) killAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.Kill()
	}
}

// run reads from src until it fails or ctx is done. A panic is turned into
// an error for onPanic; the relay stops either way.
func (r *relay) run(ctx context.Context, src rtpSource, logger *zerolog.Logger, onPanic func(error)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("relay panic: %v", p)
			onPanic(err)
		}
		r.killAll()
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay stopped")
			return nil
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return err
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dead []string
	for id, ot := range snapshot {
		switch ot.State() {
		case trackDead:
			dead = append(dead, id)
		case trackPaused:
		case trackLive:
			if err := ot.w.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", id).Msg("write RTP failed, dropping out-track")
				ot.Kill()
				dead = append(dead, id)
			}
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, id := range dead {
			delete(r.outTracks, id)
		}
		r.mu.Unlock()
	}
}
