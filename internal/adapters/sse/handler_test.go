package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/gin-gonic/gin"
)

type fakeConnector struct {
	mu           sync.Mutex
	sinks        map[string]core.Sink
	disconnected chan string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{sinks: make(map[string]core.Sink), disconnected: make(chan string, 1)}
}

func (f *fakeConnector) Connect(cid, _ string, sink core.Sink, _ context.CancelFunc) func() {
	f.mu.Lock()
	f.sinks[cid] = sink
	f.mu.Unlock()
	return func() { f.disconnected <- cid }
}

func (f *fakeConnector) sink(cid string) core.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[cid]
}

func TestSinkBackpressure(t *testing.T) {
	s := NewSink(1)
	if err := s.TrySend(core.Event{Topic: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := s.TrySend(core.Event{Topic: "b"}); !errors.Is(err, core.ErrBackpressure) {
		t.Fatalf("expected backpressure, got %v", err)
	}
	s.Close()
	s.Close()
	if err := s.TrySend(core.Event{Topic: "c"}); !errors.Is(err, core.ErrSinkClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}

func readFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
			return "comment", strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(line[len("data:"):])
		}
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fc := newFakeConnector()
	r := gin.New()
	r.GET("/events", Handler(fc, 8, func(*gin.Context) string { return "u1" }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}
	br := bufio.NewReader(resp.Body)

	event, data := readFrame(t, br)
	var hello Hello
	if event != EventHello || json.Unmarshal([]byte(data), &hello) != nil || hello.ConnectionID == "" || hello.UserID != "u1" {
		t.Fatalf("bad hello frame %q %q", event, data)
	}

	sink := fc.sink(hello.ConnectionID)
	if sink == nil {
		t.Fatalf("connection %s not registered", hello.ConnectionID)
	}
	if err := sink.TrySend(core.Event{ID: "e1", Topic: core.TopicHeartbeat}); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if event, data := readFrame(t, br); event != "comment" || data != "heartbeat" {
		t.Fatalf("expected heartbeat comment, got %q %q", event, data)
	}

	if err := sink.TrySend(core.Event{ID: "e2", Topic: "view-count", Data: json.RawMessage(`{"count":2}`)}); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	event, data = readFrame(t, br)
	var ev core.Event
	if event != "view-count" || json.Unmarshal([]byte(data), &ev) != nil || ev.ID != "e2" || string(ev.Data) != `{"count":2}` {
		t.Fatalf("unexpected frame %q %q", event, data)
	}

	sink.Close()
	select {
	case cid := <-fc.disconnected:
		if cid != hello.ConnectionID {
			t.Fatalf("disconnected %s", cid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("closing the sink did not end the stream")
	}
	resp.Body.Close()
}
