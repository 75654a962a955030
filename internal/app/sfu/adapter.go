// Package sfu manages the media plane of every room: a fixed worker pool,
// one router per room and the transports, producers and consumers hanging
// off it. All lookups are scoped by room id first.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// TransportPolicy bounds the number of transports per room.
type TransportPolicy interface {
	AdmitTransport(roomID string, current int) error
}

// Loss describes media torn down by the engine rather than by a caller, e.g.
// a peer connection that failed. TransportID is empty when only producers
// went away.
type Loss struct {
	TransportID string
	Producers   []string
}

type Config struct {
	Workers int
	Policy  TransportPolicy
	// OnFatal is called when a worker dies. Defaults to a fatal log entry,
	// which exits the process.
	OnFatal func(workerID string, err error)
	// OnLoss is called, without adapter locks held, for engine-initiated
	// teardown.
	OnLoss func(roomID string, loss Loss)
}

type transportEntry struct {
	t     core.Transport
	owner string
}

type producerEntry struct {
	p     core.Producer
	owner string
}

type roomMedia struct {
	router     core.Router
	transports map[string]*transportEntry
	producers  map[string]*producerEntry
	consumers  map[string]core.Consumer
	// pending counts callers between router lookup and transport insert.
	pending int
}

func newRoomMedia(r core.Router) *roomMedia {
	return &roomMedia{
		router:     r,
		transports: make(map[string]*transportEntry),
		producers:  make(map[string]*producerEntry),
		consumers:  make(map[string]core.Consumer),
	}
}

// detached collects entries pulled out of the maps so they can be closed
// after the adapter lock is released.
type detached struct {
	consumers  []core.Consumer
	producers  []core.Producer
	transports []core.Transport
	router     core.Router
}

func (d *detached) producerIDs() []string {
	ids := make([]string, 0, len(d.producers))
	for _, p := range d.producers {
		ids = append(ids, p.ID())
	}
	sort.Strings(ids)
	return ids
}

func (d *detached) close() {
	for _, c := range d.consumers {
		c.Close()
	}
	for _, p := range d.producers {
		p.Close()
	}
	for _, t := range d.transports {
		t.Close()
	}
	if d.router != nil {
		d.router.Close()
	}
}

type Adapter struct {
	engine core.Engine
	cfg    Config

	initMu  sync.Mutex
	workers []core.Worker
	next    atomic.Uint64
	done    chan struct{}

	mu     sync.Mutex
	rooms  map[string]*roomMedia
	closed bool
}

func NewAdapter(engine core.Engine, cfg Config) *Adapter {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(workerID string, err error) {
			log.Fatal().Err(err).Str("module", "sfu").Str("worker", workerID).Msg("media worker died")
		}
	}
	return &Adapter{
		engine: engine,
		cfg:    cfg,
		done:   make(chan struct{}),
		rooms:  make(map[string]*roomMedia),
	}
}

// Init creates the worker pool. Only the first successful call does work.
func (a *Adapter) Init(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.workers != nil {
		return nil
	}
	workers := make([]core.Worker, 0, a.cfg.Workers)
	for i := 0; i < a.cfg.Workers; i++ {
		w, err := a.engine.NewWorker(ctx, i)
		if err != nil {
			for _, created := range workers {
				created.Close()
			}
			return fmt.Errorf("%w: start media worker %d: %v", domain.ErrFatal, i, err)
		}
		workers = append(workers, w)
	}
	a.workers = workers
	for _, w := range workers {
		go a.watch(w)
	}
	log.Info().Str("module", "sfu").Int("workers", len(workers)).Msg("media workers started")
	return nil
}

func (a *Adapter) watch(w core.Worker) {
	select {
	case err := <-w.Died():
		if err == nil {
			err = domain.ErrFatal
		}
		log.Error().Err(err).Str("module", "sfu").Str("worker", w.ID()).Msg("worker died")
		a.cfg.OnFatal(w.ID(), err)
	case <-a.done:
	}
}

func (a *Adapter) pickWorker(ctx context.Context) (core.Worker, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	a.initMu.Lock()
	workers := a.workers
	a.initMu.Unlock()
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: no media workers", domain.ErrResourceExhausted)
	}
	n := a.next.Add(1) - 1
	return workers[n%uint64(len(workers))], nil
}

// GetRouter returns the room's router, creating it on a round-robin worker
// the first time media is needed.
func (a *Adapter) GetRouter(ctx context.Context, roomID string) (core.Router, error) {
	rm, err := a.roomFor(ctx, roomID, false)
	if err != nil {
		return nil, err
	}
	return rm.router, nil
}

// roomFor returns the room entry, creating its router if needed. With hold
// set the entry is pinned until release, so a concurrent teardown of the
// last transport cannot close the router under a caller about to use it.
func (a *Adapter) roomFor(ctx context.Context, roomID string, hold bool) (*roomMedia, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: media adapter closed", domain.ErrResourceExhausted)
	}
	if rm, ok := a.rooms[roomID]; ok {
		if hold {
			rm.pending++
		}
		a.mu.Unlock()
		return rm, nil
	}
	a.mu.Unlock()

	w, err := a.pickWorker(ctx)
	if err != nil {
		return nil, err
	}
	router, err := w.CreateRouter(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: create router: %v", domain.ErrResourceExhausted, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		router.Close()
		return nil, fmt.Errorf("%w: media adapter closed", domain.ErrResourceExhausted)
	}
	rm, ok := a.rooms[roomID]
	if ok {
		// lost the race to another caller
		if hold {
			rm.pending++
		}
		a.mu.Unlock()
		router.Close()
		return rm, nil
	}
	rm = newRoomMedia(router)
	if hold {
		rm.pending++
	}
	a.rooms[roomID] = rm
	a.mu.Unlock()

	log.Info().Str("module", "sfu").Str("room", roomID).Str("worker", w.ID()).Str("router", router.ID()).Msg("router created")
	return rm, nil
}

// release unpins rm and drops the room if nothing else holds it.
func (a *Adapter) release(roomID string, rm *roomMedia) {
	var d detached
	a.mu.Lock()
	rm.pending--
	if rm.pending == 0 && len(rm.transports) == 0 && a.rooms[roomID] == rm {
		a.detachRoomLocked(&d, roomID)
	}
	a.mu.Unlock()
	d.close()
}

func (a *Adapter) admitLocked(roomID string) error {
	if a.cfg.Policy == nil {
		return nil
	}
	current := 0
	if rm, ok := a.rooms[roomID]; ok {
		current = len(rm.transports)
	}
	return a.cfg.Policy.AdmitTransport(roomID, current)
}

// CreateTransport opens a transport in the room for owner.
func (a *Adapter) CreateTransport(ctx context.Context, roomID, owner string) (core.TransportInfo, error) {
	a.mu.Lock()
	err := a.admitLocked(roomID)
	a.mu.Unlock()
	if err != nil {
		return core.TransportInfo{}, err
	}

	rm, err := a.roomFor(ctx, roomID, true)
	if err != nil {
		return core.TransportInfo{}, err
	}
	defer a.release(roomID, rm)

	t, err := rm.router.CreateTransport(ctx)
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("%w: create transport: %v", domain.ErrResourceExhausted, err)
	}

	a.mu.Lock()
	if a.rooms[roomID] != rm {
		a.mu.Unlock()
		t.Close()
		return core.TransportInfo{}, fmt.Errorf("room %s media closed: %w", roomID, domain.ErrNotFound)
	}
	if err := a.admitLocked(roomID); err != nil {
		a.mu.Unlock()
		t.Close()
		return core.TransportInfo{}, err
	}
	rm.transports[t.ID()] = &transportEntry{t: t, owner: owner}
	a.mu.Unlock()

	tid := t.ID()
	t.OnClose(func() { a.transportLost(roomID, tid) })

	log.Info().Str("module", "sfu").Str("room", roomID).Str("transport", tid).Str("owner", owner).Msg("transport created")
	return t.Info(), nil
}

func (a *Adapter) lookupTransport(roomID, transportID string) (*transportEntry, *roomMedia, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rm, ok := a.rooms[roomID]
	if !ok {
		return nil, nil, fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	te, ok := rm.transports[transportID]
	if !ok {
		return nil, nil, fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	return te, rm, nil
}

func (a *Adapter) GetTransport(roomID, transportID string) (core.Transport, error) {
	te, _, err := a.lookupTransport(roomID, transportID)
	if err != nil {
		return nil, err
	}
	return te.t, nil
}

// TransportOwner reports who created the transport.
func (a *Adapter) TransportOwner(roomID, transportID string) (string, error) {
	te, _, err := a.lookupTransport(roomID, transportID)
	if err != nil {
		return "", err
	}
	return te.owner, nil
}

func (a *Adapter) ConnectTransport(ctx context.Context, roomID, transportID string, offer core.SessionDescription) (core.SessionDescription, error) {
	t, err := a.GetTransport(roomID, transportID)
	if err != nil {
		return core.SessionDescription{}, err
	}
	answer, err := t.Connect(ctx, offer)
	if err != nil {
		return core.SessionDescription{}, negotiationErr("connect", err)
	}
	return answer, nil
}

func (a *Adapter) Renegotiate(ctx context.Context, roomID, transportID string) (core.SessionDescription, error) {
	t, err := a.GetTransport(roomID, transportID)
	if err != nil {
		return core.SessionDescription{}, err
	}
	offer, err := t.CreateOffer(ctx)
	if err != nil {
		return core.SessionDescription{}, negotiationErr("create offer", err)
	}
	return offer, nil
}

func (a *Adapter) ApplyAnswer(roomID, transportID string, answer core.SessionDescription) error {
	t, err := a.GetTransport(roomID, transportID)
	if err != nil {
		return err
	}
	if err := t.ApplyAnswer(answer); err != nil {
		return negotiationErr("apply answer", err)
	}
	return nil
}

func (a *Adapter) AddICECandidate(roomID, transportID string, c core.ICECandidate) error {
	t, err := a.GetTransport(roomID, transportID)
	if err != nil {
		return err
	}
	if err := t.AddICECandidate(c); err != nil {
		return negotiationErr("add candidate", err)
	}
	return nil
}

// OnICECandidate forwards local candidates of the transport to fn.
func (a *Adapter) OnICECandidate(roomID, transportID string, fn func(core.ICECandidate)) error {
	t, err := a.GetTransport(roomID, transportID)
	if err != nil {
		return err
	}
	t.OnICECandidate(fn)
	return nil
}

func negotiationErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, op, err)
}

// Produce registers an inbound stream on a transport. The stream's codec
// must belong to the router's fixed codec set.
func (a *Adapter) Produce(ctx context.Context, roomID, transportID string, kind core.MediaKind, params core.RtpParameters) (core.ProducerInfo, error) {
	if !kind.Valid() {
		return core.ProducerInfo{}, domain.Invalid("unknown media kind")
	}
	primary, err := params.PrimaryCodec()
	if err != nil {
		return core.ProducerInfo{}, err
	}
	if primary.Kind() != kind {
		return core.ProducerInfo{}, domain.Invalid("codec does not match media kind")
	}
	te, rm, err := a.lookupTransport(roomID, transportID)
	if err != nil {
		return core.ProducerInfo{}, err
	}
	if _, ok := core.MatchCodec(primary, rm.router.Codecs()); !ok {
		return core.ProducerInfo{}, fmt.Errorf("%w: codec %s not supported by router", domain.ErrRejected, primary.MimeType)
	}

	p, err := te.t.Produce(ctx, kind, params)
	if err != nil {
		return core.ProducerInfo{}, fmt.Errorf("produce: %w", err)
	}

	a.mu.Lock()
	cur, ok := a.rooms[roomID]
	if !ok || cur != rm || rm.transports[transportID] != te {
		a.mu.Unlock()
		p.Close()
		return core.ProducerInfo{}, fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	rm.producers[p.ID()] = &producerEntry{p: p, owner: te.owner}
	a.mu.Unlock()

	pid := p.ID()
	p.OnClose(func() { a.producerLost(roomID, pid) })

	log.Info().Str("module", "sfu").Str("room", roomID).Str("transport", transportID).Str("producer", pid).Str("kind", string(kind)).Msg("producer created")
	return producerInfo(roomID, p, te.owner), nil
}

func producerInfo(roomID string, p core.Producer, owner string) core.ProducerInfo {
	return core.ProducerInfo{
		ID:            p.ID(),
		RoomID:        roomID,
		TransportID:   p.TransportID(),
		Kind:          p.Kind(),
		ParticipantID: owner,
		RtpParameters: p.RtpParameters(),
	}
}

// Consume forwards producerID to transportID. The router must confirm the
// receiver can decode the stream before anything is allocated.
func (a *Adapter) Consume(ctx context.Context, roomID, transportID, producerID string, caps core.RtpCapabilities) (core.ConsumerInfo, error) {
	te, rm, err := a.lookupTransport(roomID, transportID)
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	a.mu.Lock()
	pe, ok := rm.producers[producerID]
	a.mu.Unlock()
	if !ok {
		return core.ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, domain.ErrNotFound)
	}
	if pe.p.TransportID() == transportID {
		return core.ConsumerInfo{}, fmt.Errorf("%w: producer %s is sent on this transport", domain.ErrRejected, producerID)
	}
	if !rm.router.CanConsume(producerID, caps) {
		return core.ConsumerInfo{}, fmt.Errorf("%w: cannot consume producer %s with given capabilities", domain.ErrRejected, producerID)
	}

	c, err := te.t.Consume(ctx, pe.p, caps)
	if err != nil {
		return core.ConsumerInfo{}, fmt.Errorf("consume: %w", err)
	}

	a.mu.Lock()
	cur, ok := a.rooms[roomID]
	if !ok || cur != rm || rm.transports[transportID] != te || rm.producers[producerID] != pe {
		a.mu.Unlock()
		c.Close()
		return core.ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, domain.ErrNotFound)
	}
	rm.consumers[c.ID()] = c
	a.mu.Unlock()

	cid := c.ID()
	c.OnClose(func() { a.consumerLost(roomID, cid) })

	log.Info().Str("module", "sfu").Str("room", roomID).Str("transport", transportID).Str("producer", producerID).Str("consumer", cid).Msg("consumer created")
	return consumerInfo(roomID, c), nil
}

func consumerInfo(roomID string, c core.Consumer) core.ConsumerInfo {
	return core.ConsumerInfo{
		ID:            c.ID(),
		RoomID:        roomID,
		ProducerID:    c.ProducerID(),
		TransportID:   c.TransportID(),
		Kind:          c.Kind(),
		Paused:        c.Paused(),
		RtpParameters: c.RtpParameters(),
	}
}

func (a *Adapter) lookupConsumer(roomID, consumerID string) (core.Consumer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rm, ok := a.rooms[roomID]; ok {
		if c, ok := rm.consumers[consumerID]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("consumer %s: %w", consumerID, domain.ErrNotFound)
}

// GetConsumer describes a live consumer of the room.
func (a *Adapter) GetConsumer(roomID, consumerID string) (core.ConsumerInfo, error) {
	c, err := a.lookupConsumer(roomID, consumerID)
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	return consumerInfo(roomID, c), nil
}

// SetConsumerPaused stops or restarts forwarding to one consumer. The
// transport stays negotiated either way.
func (a *Adapter) SetConsumerPaused(roomID, consumerID string, paused bool) (core.ConsumerInfo, error) {
	c, err := a.lookupConsumer(roomID, consumerID)
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	if paused {
		c.Pause()
	} else {
		c.Resume()
	}
	log.Debug().Str("module", "sfu").Str("room", roomID).Str("consumer", consumerID).Bool("paused", paused).Msg("consumer state")
	return consumerInfo(roomID, c), nil
}

// ListProducers is a snapshot of the room's producers sorted by id.
func (a *Adapter) ListProducers(roomID string) []core.ProducerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	rm, ok := a.rooms[roomID]
	if !ok {
		return []core.ProducerInfo{}
	}
	out := make([]core.ProducerInfo, 0, len(rm.producers))
	for _, pe := range rm.producers {
		out = append(out, producerInfo(roomID, pe.p, pe.owner))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// detachConsumersLocked removes every consumer matching pred.
func (rm *roomMedia) detachConsumersLocked(d *detached, pred func(core.Consumer) bool) {
	for id, c := range rm.consumers {
		if pred(c) {
			delete(rm.consumers, id)
			d.consumers = append(d.consumers, c)
		}
	}
}

func (rm *roomMedia) detachProducerLocked(d *detached, producerID string) bool {
	pe, ok := rm.producers[producerID]
	if !ok {
		return false
	}
	delete(rm.producers, producerID)
	d.producers = append(d.producers, pe.p)
	rm.detachConsumersLocked(d, func(c core.Consumer) bool { return c.ProducerID() == producerID })
	return true
}

func (a *Adapter) detachTransportLocked(d *detached, roomID, transportID string) bool {
	rm, ok := a.rooms[roomID]
	if !ok {
		return false
	}
	te, ok := rm.transports[transportID]
	if !ok {
		return false
	}
	delete(rm.transports, transportID)
	d.transports = append(d.transports, te.t)
	for id, pe := range rm.producers {
		if pe.p.TransportID() == transportID {
			rm.detachProducerLocked(d, id)
		}
	}
	rm.detachConsumersLocked(d, func(c core.Consumer) bool { return c.TransportID() == transportID })
	if len(rm.transports) == 0 && rm.pending == 0 {
		a.detachRoomLocked(d, roomID)
	}
	return true
}

func (a *Adapter) detachRoomLocked(d *detached, roomID string) {
	rm, ok := a.rooms[roomID]
	if !ok {
		return
	}
	delete(a.rooms, roomID)
	for _, c := range rm.consumers {
		d.consumers = append(d.consumers, c)
	}
	for _, pe := range rm.producers {
		d.producers = append(d.producers, pe.p)
	}
	for _, te := range rm.transports {
		d.transports = append(d.transports, te.t)
	}
	d.router = rm.router
}

// RemoveTransport closes a transport with its producers and consumers and
// returns the ids of the producers that went away.
func (a *Adapter) RemoveTransport(roomID, transportID string) []string {
	var d detached
	a.mu.Lock()
	ok := a.detachTransportLocked(&d, roomID, transportID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	d.close()
	a.logTeardown(roomID, "transport removed", &d)
	return d.producerIDs()
}

// RemoveProducer closes a producer and every consumer fed by it.
func (a *Adapter) RemoveProducer(roomID, producerID string) bool {
	var d detached
	a.mu.Lock()
	ok := false
	if rm, found := a.rooms[roomID]; found {
		ok = rm.detachProducerLocked(&d, producerID)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	d.close()
	a.logTeardown(roomID, "producer removed", &d)
	return true
}

func (a *Adapter) RemoveConsumer(roomID, consumerID string) bool {
	var d detached
	a.mu.Lock()
	ok := false
	if rm, found := a.rooms[roomID]; found {
		rm.detachConsumersLocked(&d, func(c core.Consumer) bool { return c.ID() == consumerID })
		ok = len(d.consumers) > 0
	}
	a.mu.Unlock()
	d.close()
	return ok
}

// CloseRoom tears down all media of the room and returns the removed
// producer ids.
func (a *Adapter) CloseRoom(roomID string) []string {
	var d detached
	a.mu.Lock()
	a.detachRoomLocked(&d, roomID)
	a.mu.Unlock()
	if d.router == nil {
		return nil
	}
	d.close()
	a.logTeardown(roomID, "room media closed", &d)
	return d.producerIDs()
}

// Close shuts every room and worker down. The adapter is unusable after.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	rooms := make([]*detached, 0, len(a.rooms))
	for roomID := range a.rooms {
		rd := &detached{}
		a.detachRoomLocked(rd, roomID)
		rooms = append(rooms, rd)
	}
	a.mu.Unlock()
	for _, rd := range rooms {
		rd.close()
	}

	close(a.done)
	a.initMu.Lock()
	workers := a.workers
	a.initMu.Unlock()
	for _, w := range workers {
		w.Close()
	}
	log.Info().Str("module", "sfu").Int("rooms", len(rooms)).Msg("media adapter closed")
}

func (a *Adapter) RoomCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}

// RoomStats counts the live media entities of one room.
type RoomStats struct {
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}

func (a *Adapter) Stats(roomID string) RoomStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	rm, ok := a.rooms[roomID]
	if !ok {
		return RoomStats{}
	}
	return RoomStats{
		Transports: len(rm.transports),
		Producers:  len(rm.producers),
		Consumers:  len(rm.consumers),
	}
}

// hooks from the engine; explicit teardown detaches first, so these find
// nothing and return.

func (a *Adapter) transportLost(roomID, transportID string) {
	var d detached
	a.mu.Lock()
	ok := a.detachTransportLocked(&d, roomID, transportID)
	a.mu.Unlock()
	if !ok {
		return
	}
	d.close()
	a.logTeardown(roomID, "transport lost", &d)
	if a.cfg.OnLoss != nil {
		a.cfg.OnLoss(roomID, Loss{TransportID: transportID, Producers: d.producerIDs()})
	}
}

func (a *Adapter) producerLost(roomID, producerID string) {
	var d detached
	a.mu.Lock()
	ok := false
	if rm, found := a.rooms[roomID]; found {
		ok = rm.detachProducerLocked(&d, producerID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	d.close()
	if a.cfg.OnLoss != nil {
		a.cfg.OnLoss(roomID, Loss{Producers: []string{producerID}})
	}
}

func (a *Adapter) consumerLost(roomID, consumerID string) {
	a.mu.Lock()
	if rm, ok := a.rooms[roomID]; ok {
		delete(rm.consumers, consumerID)
	}
	a.mu.Unlock()
}

func (a *Adapter) logTeardown(roomID, msg string, d *detached) {
	log.Info().
		Str("module", "sfu").
		Str("room", roomID).
		Int("transports", len(d.transports)).
		Int("producers", len(d.producers)).
		Int("consumers", len(d.consumers)).
		Bool("router_closed", d.router != nil).
		Msg(msg)
}
