package mediastub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("mediastub: closed")

// DefaultCodecs mirrors the fixed router codec set of the real engine.
func DefaultCodecs() []core.Codec {
	return []core.Codec{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
		{MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	}
}

// Options controls the stub's behavior.
type Options struct {
	// Codecs is the router codec set. Defaults to DefaultCodecs.
	Codecs []core.Codec
	// FailTransports makes the next N CreateTransport calls fail.
	FailTransports int
}

// Engine implements core.Engine.
type Engine struct {
	opts Options

	mu      sync.Mutex
	workers []*Worker
	failTx  int

	canConsumeCalls atomic.Int64
}

func NewEngine(opts Options) *Engine {
	if len(opts.Codecs) == 0 {
		opts.Codecs = DefaultCodecs()
	}
	return &Engine{opts: opts, failTx: opts.FailTransports}
}

func (e *Engine) NewWorker(_ context.Context, index int) (core.Worker, error) {
	w := &Worker{
		id:      fmt.Sprintf("stub-worker-%d", index),
		engine:  e,
		died:    make(chan error, 1),
		routers: make(map[string]*Router),
	}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

// Workers returns the workers created so far, in creation order.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

// CanConsumeCalls counts Router.CanConsume invocations across all routers.
func (e *Engine) CanConsumeCalls() int64 { return e.canConsumeCalls.Load() }

func (e *Engine) takeTransportFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failTx > 0 {
		e.failTx--
		return true
	}
	return false
}

// Worker implements core.Worker.
type Worker struct {
	id     string
	engine *Engine
	died   chan error
	kill   sync.Once

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Died() <-chan error { return w.died }

// Kill reports the worker as dead to its watcher.
func (w *Worker) Kill(err error) {
	w.kill.Do(func() { w.died <- err })
}

// RouterCount reports how many routers are currently open on the worker.
func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) CreateRouter(_ context.Context, roomID string) (core.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	r := &Router{
		id:         uuid.NewString(),
		roomID:     roomID,
		worker:     w,
		codecs:     append([]core.Codec(nil), w.engine.opts.Codecs...),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

// Router implements core.Router.
type Router struct {
	id     string
	roomID string
	worker *Worker
	codecs []core.Codec

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	closed     bool
}

func (r *Router) ID() string     { return r.id }
func (r *Router) RoomID() string { return r.roomID }

func (r *Router) Codecs() []core.Codec {
	return append([]core.Codec(nil), r.codecs...)
}

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	r.worker.engine.canConsumeCalls.Add(1)
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || p.hooks.Fired() {
		return false
	}
	return core.CanConsume(p.params, caps)
}

func (r *Router) CreateTransport(_ context.Context) (core.Transport, error) {
	if r.worker.engine.takeTransportFailure() {
		return nil, errors.New("mediastub: transport allocation failed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	t := &Transport{
		id:     uuid.NewString(),
		router: r,
	}
	r.transports[t.id] = t
	return t, nil
}

// IsClosed reports whether Close was called.
func (r *Router) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
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

	r.worker.mu.Lock()
	delete(r.worker.routers, r.id)
	r.worker.mu.Unlock()
}

func (r *Router) forget(t *Transport) {
	r.mu.Lock()
	delete(r.transports, t.id)
	r.mu.Unlock()
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

// Transport implements core.Transport. Offers and answers are opaque strings.
type Transport struct {
	id     string
	router *Router
	hooks  core.CloseHooks
	once   sync.Once

	mu         sync.Mutex
	connected  bool
	candidates []core.ICECandidate
	onICE      func(core.ICECandidate)
	producers  []*Producer
	consumers  []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{ID: t.id, RoomID: t.router.roomID}
}

func (t *Transport) Connect(ctx context.Context, offer core.SessionDescription) (core.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return core.SessionDescription{}, err
	}
	if t.hooks.Fired() {
		return core.SessionDescription{}, ErrClosed
	}
	if offer.Type != "offer" {
		return core.SessionDescription{}, fmt.Errorf("mediastub: expected offer, got %q", offer.Type)
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return core.SessionDescription{Type: "answer", SDP: "answer:" + offer.SDP}, nil
}

func (t *Transport) CreateOffer(ctx context.Context) (core.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return core.SessionDescription{}, err
	}
	if t.hooks.Fired() {
		return core.SessionDescription{}, ErrClosed
	}
	return core.SessionDescription{Type: "offer", SDP: "offer:" + t.id}, nil
}

func (t *Transport) ApplyAnswer(answer core.SessionDescription) error {
	if t.hooks.Fired() {
		return ErrClosed
	}
	if answer.Type != "answer" {
		return fmt.Errorf("mediastub: expected answer, got %q", answer.Type)
	}
	return nil
}

func (t *Transport) AddICECandidate(c core.ICECandidate) error {
	if t.hooks.Fired() {
		return ErrClosed
	}
	t.mu.Lock()
	t.candidates = append(t.candidates, c)
	t.mu.Unlock()
	return nil
}

func (t *Transport) OnICECandidate(fn func(core.ICECandidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

// EmitCandidate simulates a locally gathered ICE candidate.
func (t *Transport) EmitCandidate(c core.ICECandidate) {
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// Connected reports whether Connect succeeded.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Candidates returns the remote candidates added so far.
func (t *Transport) Candidates() []core.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.ICECandidate(nil), t.candidates...)
}

func (t *Transport) Produce(_ context.Context, kind core.MediaKind, params core.RtpParameters) (core.Producer, error) {
	if t.hooks.Fired() {
		return nil, ErrClosed
	}
	p := &Producer{
		id:          uuid.NewString(),
		kind:        kind,
		transportID: t.id,
		params:      params,
	}
	t.router.addProducer(p)
	p.hooks.Add(func() { t.router.removeProducer(p.id) })
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producer core.Producer, caps core.RtpCapabilities) (core.Consumer, error) {
	if t.hooks.Fired() {
		return nil, ErrClosed
	}
	src, ok := producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("mediastub: foreign producer %T", producer)
	}
	if src.hooks.Fired() {
		return nil, ErrClosed
	}
	primary, err := src.params.PrimaryCodec()
	if err != nil {
		return nil, err
	}
	codec, ok := core.MatchCodec(primary, caps.Codecs)
	if !ok {
		return nil, errors.New("mediastub: no common codec")
	}
	c := &Consumer{
		id:          uuid.NewString(),
		producerID:  src.id,
		transportID: t.id,
		kind:        src.kind,
		params:      core.RtpParameters{MID: src.params.MID, Codecs: []core.Codec{codec}},
	}
	// closing the producer closes every consumer fed by it
	src.hooks.Add(c.Close)
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) OnClose(fn func()) { t.hooks.Add(fn) }

// IsClosed reports whether the transport was closed.
func (t *Transport) IsClosed() bool { return t.hooks.Fired() }

func (t *Transport) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		producers, consumers := t.producers, t.consumers
		t.producers, t.consumers = nil, nil
		t.mu.Unlock()
		for _, p := range producers {
			p.Close()
		}
		for _, c := range consumers {
			c.Close()
		}
		t.router.forget(t)
		t.hooks.Fire()
	})
}

// ProducerIDs lists the open producers on the transport's router, sorted.
func (r *Router) ProducerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.producers))
	for id := range r.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Producer implements core.Producer.
type Producer struct {
	id          string
	kind        core.MediaKind
	transportID string
	params      core.RtpParameters
	hooks       core.CloseHooks
}

func (p *Producer) ID() string                        { return p.id }
func (p *Producer) Kind() core.MediaKind              { return p.kind }
func (p *Producer) TransportID() string               { return p.transportID }
func (p *Producer) RtpParameters() core.RtpParameters { return p.params }
func (p *Producer) OnClose(fn func())                 { p.hooks.Add(fn) }
func (p *Producer) Close()                            { p.hooks.Fire() }
func (p *Producer) IsClosed() bool                    { return p.hooks.Fired() }

// Consumer implements core.Consumer.
type Consumer struct {
	id          string
	producerID  string
	transportID string
	kind        core.MediaKind
	params      core.RtpParameters
	hooks       core.CloseHooks
	paused      atomic.Bool
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producerID }
func (c *Consumer) TransportID() string               { return c.transportID }
func (c *Consumer) Kind() core.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.params }
func (c *Consumer) Pause()                            { c.paused.Store(true) }
func (c *Consumer) Resume()                           { c.paused.Store(false) }
func (c *Consumer) Paused() bool                      { return c.paused.Load() }
func (c *Consumer) OnClose(fn func())                 { c.hooks.Add(fn) }
func (c *Consumer) Close()                            { c.hooks.Fire() }
func (c *Consumer) IsClosed() bool                    { return c.hooks.Fired() }
