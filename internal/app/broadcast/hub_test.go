package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
)

type recordSink struct {
	mu     sync.Mutex
	events []core.Event
	fail   bool
	closed int
}

func (s *recordSink) TrySend(ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return core.ErrSinkClosed
	}
	if s.fail {
		return core.ErrBackpressure
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *recordSink) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Topic)
	}
	return out
}

func (s *recordSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestPublishToUserTargetsOnlyThatUser(t *testing.T) {
	h := NewHub(Config{})
	a, b := &recordSink{}, &recordSink{}
	h.Subscribe("c1", "u1", a)
	h.Subscribe("c2", "u2", b)

	res := h.PublishToUser("u1", "notification", map[string]string{"text": "hi"})
	if res.SentTo != 1 {
		t.Fatalf("expected 1 delivery, got %d", res.SentTo)
	}
	if got := a.topics(); len(got) != 1 || got[0] != "notification" {
		t.Fatalf("u1 sink got %v", got)
	}
	if got := b.topics(); len(got) != 0 {
		t.Fatalf("u2 sink should be empty, got %v", got)
	}

	var data map[string]string
	if err := json.Unmarshal(a.events[0].Data, &data); err != nil || data["text"] != "hi" {
		t.Fatalf("payload not preserved: %s (%v)", a.events[0].Data, err)
	}
	if a.events[0].ID == "" {
		t.Fatalf("event id not set")
	}
}

func TestFailingSinkIsDropped(t *testing.T) {
	h := NewHub(Config{})
	ok1, ok2, bad := &recordSink{}, &recordSink{}, &recordSink{fail: true}
	h.Subscribe("c1", "", ok1)
	h.Subscribe("c2", "", ok2)
	h.Subscribe("c3", "", bad)

	res := h.Publish("t", nil)
	if res.SentTo != 2 || len(res.Dropped) != 1 || res.Dropped[0] != "c3" {
		t.Fatalf("unexpected first result: %+v", res)
	}
	if bad.closeCount() != 1 {
		t.Fatalf("failing sink should be closed once, got %d", bad.closeCount())
	}
	if h.ClientCount() != 2 {
		t.Fatalf("expected 2 clients after drop, got %d", h.ClientCount())
	}
	res = h.Publish("t", nil)
	if res.SentTo != 2 || len(res.Dropped) != 0 {
		t.Fatalf("unexpected second result: %+v", res)
	}
}

type panicSink struct{ recordSink }

func (*panicSink) TrySend(core.Event) error { panic("boom") }

func TestPanickingSinkIsDropped(t *testing.T) {
	h := NewHub(Config{})
	ok, bad := &recordSink{}, &panicSink{}
	h.Subscribe("c1", "", ok)
	h.Subscribe("c2", "", bad)

	res := h.Publish("t", nil)
	if res.SentTo != 1 || len(res.Dropped) != 1 || res.Dropped[0] != "c2" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if bad.closeCount() != 1 || h.ClientCount() != 1 {
		t.Fatalf("panicking sink not dropped: closed=%d clients=%d", bad.closeCount(), h.ClientCount())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(Config{})
	s := &recordSink{}
	unsub := h.Subscribe("c1", "u1", s)
	unsub()
	unsub()
	if h.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", h.ClientCount())
	}
	if s.closeCount() != 1 {
		t.Fatalf("expected one close, got %d", s.closeCount())
	}
	if res := h.Publish("t", nil); res.SentTo != 0 {
		t.Fatalf("unsubscribed sink received event")
	}
}

func TestResubscribeReplacesSink(t *testing.T) {
	h := NewHub(Config{})
	old, fresh := &recordSink{}, &recordSink{}
	unsubOld := h.Subscribe("c1", "u1", old)
	h.JoinRoom("c1", "r1")
	h.Subscribe("c1", "u1", fresh)
	if old.closeCount() != 1 {
		t.Fatalf("replaced sink not closed")
	}
	// the stale unsubscribe must not remove the replacement
	unsubOld()
	if h.ClientCount() != 1 {
		t.Fatalf("stale unsubscribe removed the new sink")
	}
	h.Publish("t", nil)
	if len(fresh.topics()) != 1 || len(old.topics()) != 0 {
		t.Fatalf("delivery went to the wrong sink")
	}
	if res := h.PublishToRoom("r1", "room", nil, ""); res.SentTo != 1 || len(fresh.topics()) != 2 {
		t.Fatalf("replacement lost room membership: %+v", res)
	}
}

func TestPublishToRoomExcludes(t *testing.T) {
	h := NewHub(Config{})
	a, b, outside := &recordSink{}, &recordSink{}, &recordSink{}
	h.Subscribe("c1", "u1", a)
	h.Subscribe("c2", "u2", b)
	h.Subscribe("c3", "u3", outside)
	if !h.JoinRoom("c1", "r1") || !h.JoinRoom("c2", "r1") {
		t.Fatalf("JoinRoom failed")
	}
	if h.JoinRoom("ghost", "r1") {
		t.Fatalf("JoinRoom for unknown connection should fail")
	}

	res := h.PublishToRoom("r1", "participant-joined", nil, "c1")
	if res.SentTo != 1 || len(b.topics()) != 1 || len(a.topics()) != 0 || len(outside.topics()) != 0 {
		t.Fatalf("room fan-out wrong: %+v", res)
	}
	if b.events[0].RoomID != "r1" {
		t.Fatalf("room id not stamped on event")
	}

	h.LeaveRoom("c2", "r1")
	if res := h.PublishToRoom("r1", "x", nil, ""); res.SentTo != 1 {
		t.Fatalf("expected only c1 after leave, got %+v", res)
	}
}

func TestPublishToUsersDedupes(t *testing.T) {
	h := NewHub(Config{})
	s := &recordSink{}
	h.Subscribe("c1", "u1", s)
	res := h.PublishToUsers([]string{"u1", "u1", ""}, "t", nil)
	if res.SentTo != 1 || len(s.topics()) != 1 {
		t.Fatalf("expected single delivery, got %+v", res)
	}
}

func TestSendTo(t *testing.T) {
	h := NewHub(Config{})
	s := &recordSink{}
	h.Subscribe("c1", "u1", s)
	if err := h.SendTo("c1", "ice-candidate", map[string]string{"candidate": "x"}); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if err := h.SendTo("nope", "t", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	s.mu.Lock()
	s.fail = true
	s.mu.Unlock()
	if err := h.SendTo("c1", "t", nil); !errors.Is(err, core.ErrBackpressure) {
		t.Fatalf("expected backpressure, got %v", err)
	}
	if h.ClientCount() != 0 {
		t.Fatalf("failing sink should be dropped")
	}
}

func TestUnserializablePayloadIsSkipped(t *testing.T) {
	h := NewHub(Config{})
	s := &recordSink{}
	h.Subscribe("c1", "", s)
	res := h.Publish("t", make(chan int))
	if res.SentTo != 0 || len(s.topics()) != 0 {
		t.Fatalf("unserializable payload delivered: %+v", res)
	}
}

func TestHeartbeatPrunesDeadSinks(t *testing.T) {
	h := NewHub(Config{HeartbeatInterval: 10 * time.Millisecond})
	alive, dead := &recordSink{}, &recordSink{}
	h.Subscribe("c1", "", alive)
	h.Subscribe("c2", "", dead)
	dead.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("dead sink not pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := alive.topics(); len(got) == 0 || got[0] != core.TopicHeartbeat {
		t.Fatalf("alive sink missing heartbeat: %v", got)
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cid := "c" + string(rune('a'+i))
			unsub := h.Subscribe(cid, "u", &recordSink{})
			h.JoinRoom(cid, "r")
			for j := 0; j < 50; j++ {
				h.Publish("t", j)
				h.PublishToRoom("r", "t", j, "")
			}
			unsub()
		}(i)
	}
	wg.Wait()
	if h.ClientCount() != 0 {
		t.Fatalf("expected all unsubscribed, got %d", h.ClientCount())
	}
}

func TestCloseDropsAll(t *testing.T) {
	h := NewHub(Config{})
	a := &recordSink{}
	unsub := h.Subscribe("c1", "", a)
	h.Close()
	unsub()
	if a.closeCount() != 1 || h.ClientCount() != 0 {
		t.Fatalf("Close did not drop sinks once: closes=%d clients=%d", a.closeCount(), h.ClientCount())
	}
}
