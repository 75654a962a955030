package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type remoteTrack struct {
	track *webrtc.TrackRemote
	mid   string
	kind  core.MediaKind
}

// Transport wraps one PeerConnection.
type Transport struct {
	id     string
	router *Router
	pc     *webrtc.PeerConnection

	hooks   core.CloseHooks
	closing atomic.Bool

	mu        sync.Mutex
	onICE     func(core.ICECandidate)
	pending   []*Producer
	unclaimed []remoteTrack
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newTransport(id string, r *Router, pc *webrtc.PeerConnection) *Transport {
	t := &Transport{
		id:        id,
		router:    r,
		pc:        pc,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("transport", id).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("transport", id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			go t.Close()
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(fromCandidateInit(c.ToJSON()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.handleTrack(track, receiver)
	})
	return t
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{
		ID:         t.id,
		RoomID:     t.router.roomID,
		ICEServers: t.router.worker.iceServers,
	}
}

func (t *Transport) closed() error {
	if t.closing.Load() {
		return errClosed
	}
	return nil
}

func (t *Transport) Connect(ctx context.Context, offer core.SessionDescription) (core.SessionDescription, error) {
	if err := t.closed(); err != nil {
		return core.SessionDescription{}, err
	}
	sdp, err := toSDP(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return core.SessionDescription{}, err
	}
	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return core.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return core.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return t.setLocal(ctx, answer)
}

func (t *Transport) CreateOffer(ctx context.Context) (core.SessionDescription, error) {
	if err := t.closed(); err != nil {
		return core.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return core.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return t.setLocal(ctx, offer)
}

// setLocal applies desc and waits for ICE gathering so the returned SDP
// carries every local candidate.
func (t *Transport) setLocal(ctx context.Context, desc webrtc.SessionDescription) (core.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return core.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return core.SessionDescription{}, ctx.Err()
	}
	return fromSDP(t.pc.LocalDescription()), nil
}

func (t *Transport) ApplyAnswer(answer core.SessionDescription) error {
	if err := t.closed(); err != nil {
		return err
	}
	sdp, err := toSDP(answer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(sdp)
}

func (t *Transport) AddICECandidate(c core.ICECandidate) error {
	if err := t.closed(); err != nil {
		return err
	}
	if c.Candidate == "" {
		return errors.New("empty candidate")
	}
	return t.pc.AddICECandidate(toCandidateInit(c))
}

func (t *Transport) OnICECandidate(fn func(core.ICECandidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnClose(fn func()) { t.hooks.Add(fn) }

func (t *Transport) midOf(receiver *webrtc.RTPReceiver) string {
	for _, tr := range t.pc.GetTransceivers() {
		if tr.Receiver() == receiver {
			return tr.Mid()
		}
	}
	return ""
}

func (t *Transport) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	rt := remoteTrack{track: track, mid: t.midOf(receiver), kind: kindOf(track.Kind())}
	log.Info().
		Str("module", "webrtc").
		Str("transport", t.id).
		Str("kind", track.Kind().String()).
		Str("mid", rt.mid).
		Str("track_id", track.ID()).
		Msg("OnTrack received")

	t.mu.Lock()
	var p *Producer
	for i, cand := range t.pending {
		if cand.matches(rt.mid, rt.kind) {
			p = cand
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	if p == nil {
		t.unclaimed = append(t.unclaimed, rt)
	}
	t.mu.Unlock()

	if p != nil {
		p.bind(track)
	}
}

func (t *Transport) Produce(_ context.Context, kind core.MediaKind, params core.RtpParameters) (core.Producer, error) {
	if err := t.closed(); err != nil {
		return nil, err
	}
	p := newProducer(uuid.NewString(), t.id, kind, params, t.router.worker)

	t.mu.Lock()
	var track *webrtc.TrackRemote
	for i, rt := range t.unclaimed {
		if p.matches(rt.mid, rt.kind) {
			track = rt.track
			t.unclaimed = append(t.unclaimed[:i], t.unclaimed[i+1:]...)
			break
		}
	}
	if track == nil {
		t.pending = append(t.pending, p)
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	p.hooks.Add(func() {
		t.router.removeProducer(p.id)
		t.dropProducer(p)
	})
	if track != nil {
		p.bind(track)
	}
	return p, nil
}

func (t *Transport) dropProducer(p *Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, p.id)
	for i, cand := range t.pending {
		if cand == p {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
}

func (t *Transport) Consume(_ context.Context, producer core.Producer, caps core.RtpCapabilities) (core.Consumer, error) {
	if err := t.closed(); err != nil {
		return nil, err
	}
	src, ok := producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("webrtc: foreign producer %T", producer)
	}
	if src.hooks.Fired() {
		return nil, errClosed
	}
	primary, err := src.params.PrimaryCodec()
	if err != nil {
		return nil, err
	}
	codec, ok := core.MatchCodec(primary, t.router.worker.codecs)
	if !ok {
		return nil, fmt.Errorf("webrtc: codec %s not registered", primary.MimeType)
	}
	if _, ok := core.MatchCodec(codec, caps.Codecs); !ok {
		return nil, fmt.Errorf("webrtc: receiver cannot decode %s", codec.MimeType)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(capability(codec), id, src.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	c := &Consumer{
		id:        id,
		producer:  src,
		transport: t,
		kind:      src.kind,
		params:    core.RtpParameters{MID: src.params.MID, Codecs: []core.Codec{codec}},
		track:     track,
		sender:    sender,
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	go c.drainRTCP()
	src.relay.add(c.id, newOutTrack(track))
	src.OnClose(c.Close)
	return c, nil
}

func (t *Transport) dropConsumer(c *Consumer) {
	t.mu.Lock()
	delete(t.consumers, c.id)
	t.mu.Unlock()
	if t.closing.Load() {
		return
	}
	if err := t.pc.RemoveTrack(c.sender); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("transport", t.id).Str("consumer", c.id).Msg("remove track")
	}
}

// Close tears the peer connection down; producers and consumers bound to it
// close first. Re-entrant calls from pion callbacks return immediately.
func (t *Transport) Close() {
	if !t.closing.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.pending, t.unclaimed = nil, nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("transport", t.id).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("transport", t.id).Msg("closed")
	}
	t.router.removeTransport(t.id)
	t.hooks.Fire()
}
