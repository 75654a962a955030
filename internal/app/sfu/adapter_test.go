package sfu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/testsupport/mediastub"
)

var (
	opus = core.Codec{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
	vp8  = core.Codec{MimeType: "video/VP8", ClockRate: 90000}
)

func audioParams() core.RtpParameters {
	return core.RtpParameters{MID: "0", Codecs: []core.Codec{opus}}
}

type countPolicy struct{ max int }

func (p countPolicy) AdmitTransport(roomID string, current int) error {
	if current >= p.max {
		return domain.ErrResourceExhausted
	}
	return nil
}

func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *mediastub.Engine) {
	t.Helper()
	engine := mediastub.NewEngine(mediastub.Options{})
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(string, error) { t.Errorf("unexpected worker death") }
	}
	a := NewAdapter(engine, cfg)
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(a.Close)
	return a, engine
}

func mustTransport(t *testing.T, a *Adapter, roomID, owner string) string {
	t.Helper()
	info, err := a.CreateTransport(context.Background(), roomID, owner)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if info.RoomID != roomID || info.ID == "" {
		t.Fatalf("bad transport info: %+v", info)
	}
	return info.ID
}

func TestInitIsIdempotent(t *testing.T) {
	a, engine := newTestAdapter(t, Config{Workers: 3})
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if n := len(engine.Workers()); n != 3 {
		t.Fatalf("expected 3 workers, got %d", n)
	}
}

func TestRoutersRoundRobin(t *testing.T) {
	a, engine := newTestAdapter(t, Config{Workers: 2})
	ctx := context.Background()
	for _, room := range []string{"r1", "r2", "r3", "r4"} {
		if _, err := a.GetRouter(ctx, room); err != nil {
			t.Fatalf("GetRouter(%s): %v", room, err)
		}
	}
	for _, w := range engine.Workers() {
		if w.RouterCount() != 2 {
			t.Fatalf("worker %s has %d routers, want 2", w.ID(), w.RouterCount())
		}
	}
	r1, _ := a.GetRouter(ctx, "r1")
	again, _ := a.GetRouter(ctx, "r1")
	if r1.ID() != again.ID() {
		t.Fatalf("router not cached")
	}
	if a.RoomCount() != 4 {
		t.Fatalf("expected 4 rooms, got %d", a.RoomCount())
	}
}

func TestCreateTransportLimits(t *testing.T) {
	a, _ := newTestAdapter(t, Config{Policy: countPolicy{max: 1}})
	mustTransport(t, a, "r1", "a")
	if _, err := a.CreateTransport(context.Background(), "r1", "b"); !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	// other rooms have their own budget
	mustTransport(t, a, "r2", "a")
}

func TestCreateTransportEngineFailure(t *testing.T) {
	engine := mediastub.NewEngine(mediastub.Options{FailTransports: 1})
	a := NewAdapter(engine, Config{})
	defer a.Close()
	if _, err := a.CreateTransport(context.Background(), "r1", "a"); !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	mustTransport(t, a, "r1", "a")
}

func TestTransportLookupIsRoomScoped(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	tid := mustTransport(t, a, "r1", "a")
	mustTransport(t, a, "r2", "b")
	if _, err := a.GetTransport("r2", tid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("transport leaked across rooms: %v", err)
	}
	if _, err := a.GetTransport("r1", tid); err != nil {
		t.Fatalf("GetTransport: %v", err)
	}
}

func TestNegotiation(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	tid := mustTransport(t, a, "r1", "a")

	answer, err := a.ConnectTransport(ctx, "r1", tid, core.SessionDescription{Type: "offer", SDP: "v=0"})
	if err != nil || answer.Type != "answer" {
		t.Fatalf("ConnectTransport: %+v %v", answer, err)
	}
	if _, err := a.ConnectTransport(ctx, "r1", tid, core.SessionDescription{Type: "answer"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad offer, got %v", err)
	}
	offer, err := a.Renegotiate(ctx, "r1", tid)
	if err != nil || offer.Type != "offer" {
		t.Fatalf("Renegotiate: %+v %v", offer, err)
	}
	if err := a.ApplyAnswer("r1", tid, core.SessionDescription{Type: "answer", SDP: "v=0"}); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	if err := a.AddICECandidate("r1", tid, core.ICECandidate{Candidate: "candidate:1"}); err != nil {
		t.Fatalf("AddICECandidate: %v", err)
	}
	if err := a.AddICECandidate("r1", "missing", core.ICECandidate{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got := make(chan core.ICECandidate, 1)
	if err := a.OnICECandidate("r1", tid, func(c core.ICECandidate) { got <- c }); err != nil {
		t.Fatalf("OnICECandidate: %v", err)
	}
	tr, _ := a.GetTransport("r1", tid)
	tr.(*mediastub.Transport).EmitCandidate(core.ICECandidate{Candidate: "candidate:srv"})
	if c := <-got; c.Candidate != "candidate:srv" {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestProduceConsumeScenario(t *testing.T) {
	a, engine := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	tb := mustTransport(t, a, "r1", "B")

	prod, err := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if prod.ParticipantID != "A" || prod.TransportID != ta {
		t.Fatalf("bad producer info: %+v", prod)
	}

	before := engine.CanConsumeCalls()
	cons, err := a.Consume(ctx, "r1", tb, prod.ID, core.RtpCapabilities{Codecs: []core.Codec{opus, vp8}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if cons.ProducerID != prod.ID || cons.TransportID != tb || cons.Kind != core.KindAudio {
		t.Fatalf("bad consumer info: %+v", cons)
	}
	if engine.CanConsumeCalls() != before+1 {
		t.Fatalf("Consume did not consult the router")
	}

	_, err = a.Consume(ctx, "r1", tb, prod.ID, core.RtpCapabilities{Codecs: []core.Codec{vp8}})
	if !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("expected rejected for incompatible caps, got %v", err)
	}
	if st := a.Stats("r1"); st.Consumers != 1 {
		t.Fatalf("rejected consume allocated a consumer: %+v", st)
	}

	if _, err := a.Consume(ctx, "r1", ta, prod.ID, core.RtpCapabilities{Codecs: []core.Codec{opus}}); !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("expected rejected for own transport, got %v", err)
	}
	if _, err := a.Consume(ctx, "r1", tb, "missing", core.RtpCapabilities{Codecs: []core.Codec{opus}}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown producer, got %v", err)
	}

	list := a.ListProducers("r1")
	if len(list) != 1 || list[0].ID != prod.ID || list[0].Kind != core.KindAudio {
		t.Fatalf("ListProducers = %+v", list)
	}
	if got := a.ListProducers("nope"); got == nil || len(got) != 0 {
		t.Fatalf("unknown room should list empty, got %v", got)
	}
}

func TestProduceValidation(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	tid := mustTransport(t, a, "r1", "A")

	h264 := core.RtpParameters{Codecs: []core.Codec{{MimeType: "video/H264", ClockRate: 90000}}}
	if _, err := a.Produce(ctx, "r1", tid, core.KindVideo, h264); !errors.Is(err, domain.ErrRejected) {
		t.Fatalf("expected rejected for unsupported codec, got %v", err)
	}
	if _, err := a.Produce(ctx, "r1", tid, core.KindVideo, audioParams()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid for kind mismatch, got %v", err)
	}
	if _, err := a.Produce(ctx, "r1", tid, "screen", audioParams()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if _, err := a.Produce(ctx, "r1", tid, core.KindAudio, core.RtpParameters{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid for empty params, got %v", err)
	}
	if _, err := a.Produce(ctx, "r2", tid, core.KindAudio, audioParams()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for wrong room, got %v", err)
	}
}

func TestRemoveTransportCascades(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	tb := mustTransport(t, a, "r1", "B")
	caps := core.RtpCapabilities{Codecs: []core.Codec{opus}}

	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	pb, _ := a.Produce(ctx, "r1", tb, core.KindAudio, audioParams())
	if _, err := a.Consume(ctx, "r1", tb, pa.ID, caps); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := a.Consume(ctx, "r1", ta, pb.ID, caps); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	trA, _ := a.GetTransport("r1", ta)
	removed := a.RemoveTransport("r1", ta)
	if len(removed) != 1 || removed[0] != pa.ID {
		t.Fatalf("RemoveTransport returned %v", removed)
	}
	if !trA.(*mediastub.Transport).IsClosed() {
		t.Fatalf("engine transport not closed")
	}
	// both the consumer on A and the consumer of A's producer are gone
	if st := a.Stats("r1"); st != (RoomStats{Transports: 1, Producers: 1, Consumers: 0}) {
		t.Fatalf("unexpected stats after removal: %+v", st)
	}
	for _, p := range a.ListProducers("r1") {
		if p.TransportID == ta {
			t.Fatalf("producer still references removed transport")
		}
	}
	if again := a.RemoveTransport("r1", ta); again != nil {
		t.Fatalf("second removal returned %v", again)
	}

	router, _ := a.GetRouter(ctx, "r1")
	a.RemoveTransport("r1", tb)
	if a.RoomCount() != 0 {
		t.Fatalf("room media should be gone with its last transport")
	}
	if !router.(*mediastub.Router).IsClosed() {
		t.Fatalf("router not closed")
	}
}

func TestRemoveProducerCascadesConsumers(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	tb := mustTransport(t, a, "r1", "B")
	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	cons, err := a.Consume(ctx, "r1", tb, pa.ID, core.RtpCapabilities{Codecs: []core.Codec{opus}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if !a.RemoveProducer("r1", pa.ID) {
		t.Fatalf("RemoveProducer returned false")
	}
	if a.RemoveProducer("r1", pa.ID) {
		t.Fatalf("second RemoveProducer should report false")
	}
	if a.RemoveConsumer("r1", cons.ID) {
		t.Fatalf("consumer should already be gone")
	}
	if st := a.Stats("r1"); st != (RoomStats{Transports: 2}) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRemoveConsumer(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	tb := mustTransport(t, a, "r1", "B")
	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	cons, _ := a.Consume(ctx, "r1", tb, pa.ID, core.RtpCapabilities{Codecs: []core.Codec{opus}})
	if !a.RemoveConsumer("r1", cons.ID) {
		t.Fatalf("RemoveConsumer returned false")
	}
	if st := a.Stats("r1"); st.Consumers != 0 || st.Producers != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestEngineCloseReportsLoss(t *testing.T) {
	var mu sync.Mutex
	var losses []Loss
	a, _ := newTestAdapter(t, Config{OnLoss: func(roomID string, l Loss) {
		mu.Lock()
		losses = append(losses, l)
		mu.Unlock()
	}})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	mustTransport(t, a, "r1", "B")
	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())

	tr, _ := a.GetTransport("r1", ta)
	tr.Close()

	if _, err := a.GetTransport("r1", ta); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closed transport still registered")
	}
	if len(a.ListProducers("r1")) != 0 {
		t.Fatalf("producer of closed transport still listed")
	}
	mu.Lock()
	defer mu.Unlock()
	var producers []string
	sawTransport := false
	for _, l := range losses {
		producers = append(producers, l.Producers...)
		if l.TransportID == ta {
			sawTransport = true
		}
	}
	if !sawTransport || len(producers) != 1 || producers[0] != pa.ID {
		t.Fatalf("unexpected losses: %+v", losses)
	}
}

func TestExplicitRemovalDoesNotReportLoss(t *testing.T) {
	called := false
	a, _ := newTestAdapter(t, Config{OnLoss: func(string, Loss) { called = true }})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	a.RemoveTransport("r1", ta)
	if called {
		t.Fatalf("explicit teardown should not be reported as loss")
	}
}

func TestCloseRoom(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	mustTransport(t, a, "r2", "B")

	removed := a.CloseRoom("r1")
	if len(removed) != 1 || removed[0] != pa.ID {
		t.Fatalf("CloseRoom returned %v", removed)
	}
	if a.RoomCount() != 1 {
		t.Fatalf("expected only r2 left, got %d rooms", a.RoomCount())
	}
	if a.CloseRoom("r1") != nil {
		t.Fatalf("closing a closed room should be a no-op")
	}
}

func TestCloseShutsEverything(t *testing.T) {
	engine := mediastub.NewEngine(mediastub.Options{})
	a := NewAdapter(engine, Config{Workers: 2})
	tid := mustTransport(t, a, "r1", "A")
	tr, _ := a.GetTransport("r1", tid)
	a.Close()
	a.Close()
	if !tr.(*mediastub.Transport).IsClosed() {
		t.Fatalf("transport not closed on shutdown")
	}
	if _, err := a.CreateTransport(context.Background(), "r1", "A"); err == nil {
		t.Fatalf("closed adapter accepted a transport")
	}
}

func TestWorkerDeathIsFatal(t *testing.T) {
	engine := mediastub.NewEngine(mediastub.Options{})
	died := make(chan string, 1)
	a := NewAdapter(engine, Config{OnFatal: func(id string, err error) { died <- id }})
	defer a.Close()
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	w := engine.Workers()[0]
	w.Kill(errors.New("boom"))
	select {
	case id := <-died:
		if id != w.ID() {
			t.Fatalf("fatal handler got worker %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker death not reported")
	}
}

func TestConcurrentTransportChurn(t *testing.T) {
	a, _ := newTestAdapter(t, Config{Workers: 2})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := []string{"r1", "r2"}[i%2]
			for j := 0; j < 20; j++ {
				info, err := a.CreateTransport(ctx, room, "x")
				if err != nil {
					t.Errorf("CreateTransport: %v", err)
					return
				}
				a.Produce(ctx, room, info.ID, core.KindAudio, audioParams())
				a.ListProducers(room)
				a.RemoveTransport(room, info.ID)
			}
		}(i)
	}
	wg.Wait()
	if a.RoomCount() != 0 {
		t.Fatalf("rooms leaked: %d", a.RoomCount())
	}
}

func TestSetConsumerPaused(t *testing.T) {
	a, _ := newTestAdapter(t, Config{})
	ctx := context.Background()
	ta := mustTransport(t, a, "r1", "A")
	tb := mustTransport(t, a, "r1", "B")
	pa, _ := a.Produce(ctx, "r1", ta, core.KindAudio, audioParams())
	cons, err := a.Consume(ctx, "r1", tb, pa.ID, core.RtpCapabilities{Codecs: []core.Codec{opus}})
	if err != nil || cons.Paused {
		t.Fatalf("Consume: %+v %v", cons, err)
	}

	info, err := a.SetConsumerPaused("r1", cons.ID, true)
	if err != nil || !info.Paused {
		t.Fatalf("pause: %+v %v", info, err)
	}
	if got, _ := a.GetConsumer("r1", cons.ID); !got.Paused || got.ProducerID != pa.ID || got.TransportID != tb {
		t.Fatalf("GetConsumer = %+v", got)
	}
	if info, _ = a.SetConsumerPaused("r1", cons.ID, false); info.Paused {
		t.Fatalf("resume did not stick")
	}
	if _, err := a.SetConsumerPaused("r2", cons.ID, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("consumer found in another room: %v", err)
	}
	a.RemoveConsumer("r1", cons.ID)
	if _, err := a.GetConsumer("r1", cons.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removed consumer still found: %v", err)
	}
}
