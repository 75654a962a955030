// Package signal serves the request/response signaling protocol over a
// WebSocket. The same socket carries the hub's room events.
package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/liveroom/internal/app/orch"
	"github.com/dkeye/liveroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReadLimit  = 32768
	DefaultPingPeriod = 54 * time.Second
	DefaultSendBuffer = 64

	writeWait      = 5 * time.Second
	requestTimeout = 15 * time.Second
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	opts     Options
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	ctl := &SignalWSController{Orch: o, opts: opts}
	ctl.handlers = ctl.routes()
	return ctl
}

// WsSignalConn is the hub sink of one socket. Events and replies share the
// send buffer, drained by the write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

type eventFrame struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	ID     string          `json:"id"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Time   time.Time       `json:"time"`
}

func (c *WsSignalConn) TrySend(ev core.Event) error {
	if ev.Topic == core.TopicHeartbeat {
		return c.trySend([]byte(`{"type":"heartbeat"}`))
	}
	b, err := json.Marshal(eventFrame{
		Type:   "event",
		Topic:  ev.Topic,
		ID:     ev.ID,
		RoomID: ev.RoomID,
		Data:   ev.Data,
		Time:   ev.Time,
	})
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *WsSignalConn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrSinkClosed
	}
	select {
	case c.send <- b:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is one socket's signaling state.
type session struct {
	cid    string
	userID string
	conn   *WsSignalConn
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, userID string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, ctl.opts.SendBuffer),
	}
	s := &session{cid: uuid.NewString(), userID: userID, conn: conn}
	log.Info().Str("module", "signal").Str("cid", s.cid).Str("user", userID).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	disconnect := ctl.Orch.Connect(s.cid, userID, conn, cancel)
	ctl.sendJSON(conn, struct {
		Type         string `json:"type"`
		ConnectionID string `json:"connectionId"`
		UserID       string `json:"userId"`
	}{"hello", s.cid, userID})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, s, func() {
		cancel()
		disconnect()
	})
}
