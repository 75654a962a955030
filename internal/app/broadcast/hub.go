// Package broadcast fans server-push events out to client connections.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const DefaultHeartbeatInterval = 30 * time.Second

type Config struct {
	HeartbeatInterval time.Duration
}

type client struct {
	connectionID string
	userID       string
	sink         core.Sink
	rooms        map[string]struct{}
	closeOnce    sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(c.sink.Close)
}

// Hub owns every subscribed sink. Delivery is at-most-once and best-effort:
// a sink that fails a send is removed on the spot.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client

	heartbeat time.Duration
	now       func() time.Time
}

func NewHub(cfg Config) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Hub{
		clients:   make(map[string]*client),
		rooms:     make(map[string]map[string]*client),
		heartbeat: cfg.HeartbeatInterval,
		now:       time.Now,
	}
}

// Subscribe registers sink for connectionID. A previous sink on the same
// connection id is replaced and closed; the replacement keeps its room
// memberships. The returned func deregisters the sink; calling it more than
// once is a no-op.
func (h *Hub) Subscribe(connectionID, userID string, sink core.Sink) func() {
	c := &client{
		connectionID: connectionID,
		userID:       userID,
		sink:         sink,
		rooms:        make(map[string]struct{}),
	}

	h.mu.Lock()
	old := h.clients[connectionID]
	if old != nil {
		h.detachLocked(old)
	}
	h.clients[connectionID] = c
	if old != nil {
		for roomID := range old.rooms {
			h.joinLocked(c, roomID)
		}
	}
	h.mu.Unlock()

	if old != nil {
		old.close()
		log.Info().Str("module", "broadcast").Str("cid", connectionID).Msg("replaced sink")
	}
	log.Info().Str("module", "broadcast").Str("cid", connectionID).Str("user", userID).Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(c) })
	}
}

// detachLocked removes c from every index. Callers hold h.mu.
func (h *Hub) detachLocked(c *client) bool {
	if cur, ok := h.clients[c.connectionID]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.connectionID)
	for roomID := range c.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, c.connectionID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	removed := h.detachLocked(c)
	h.mu.Unlock()
	c.close()
	if removed {
		log.Info().Str("module", "broadcast").Str("cid", c.connectionID).Msg("unsubscribed")
	}
}

func (h *Hub) drop(c *client, err error) {
	log.Warn().Err(err).Str("module", "broadcast").Str("cid", c.connectionID).Msg("send failed, dropping sink")
	h.remove(c)
}

// JoinRoom attaches a subscribed connection to a room's fan-out set. It
// reports false when the connection has no sink.
func (h *Hub) JoinRoom(connectionID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return false
	}
	h.joinLocked(c, roomID)
	return true
}

func (h *Hub) joinLocked(c *client, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*client)
		h.rooms[roomID] = members
	}
	members[c.connectionID] = c
	c.rooms[roomID] = struct{}{}
}

func (h *Hub) LeaveRoom(connectionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if c, ok := h.clients[connectionID]; ok {
		delete(c.rooms, roomID)
	}
}

// Publish sends to every sink registered at call time.
func (h *Hub) Publish(topic string, payload any) core.PublishResult {
	ev, ok := h.event(topic, "", payload)
	if !ok {
		return core.PublishResult{}
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// PublishToUser sends only to sinks registered for userID.
func (h *Hub) PublishToUser(userID, topic string, payload any) core.PublishResult {
	return h.PublishToUsers([]string{userID}, topic, payload)
}

// PublishToUsers sends once to every sink whose user is in userIDs.
func (h *Hub) PublishToUsers(userIDs []string, topic string, payload any) core.PublishResult {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			want[id] = struct{}{}
		}
	}
	if len(want) == 0 {
		return core.PublishResult{}
	}
	ev, ok := h.event(topic, "", payload)
	if !ok {
		return core.PublishResult{}
	}
	h.mu.RLock()
	var targets []*client
	for _, c := range h.clients {
		if _, hit := want[c.userID]; hit {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// PublishToRoom sends to the connections attached to roomID, skipping exclude.
func (h *Hub) PublishToRoom(roomID, topic string, payload any, exclude string) core.PublishResult {
	ev, ok := h.event(topic, roomID, payload)
	if !ok {
		return core.PublishResult{}
	}
	h.mu.RLock()
	members := h.rooms[roomID]
	targets := make([]*client, 0, len(members))
	for cid, c := range members {
		if cid == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// SendTo delivers one event to a single connection.
func (h *Hub) SendTo(connectionID, topic string, payload any) error {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	ev, ok := h.event(topic, "", payload)
	if !ok {
		return domain.Invalid("payload is not serializable")
	}
	if err := trySend(c.sink, ev); err != nil {
		h.drop(c, err)
		return err
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Heartbeat sends a heartbeat to every sink, pruning the dead ones.
func (h *Hub) Heartbeat() core.PublishResult {
	return h.Publish(core.TopicHeartbeat, nil)
}

// Run sends heartbeats until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := h.Heartbeat()
			if len(res.Dropped) > 0 {
				log.Info().Str("module", "broadcast").Int("alive", res.SentTo).Int("pruned", len(res.Dropped)).Msg("heartbeat")
			}
		}
	}
}

// Close drops every sink, used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*client)
	h.rooms = make(map[string]map[string]*client)
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) event(topic, roomID string, payload any) (core.Event, bool) {
	ev := core.Event{
		ID:     xid.New().String(),
		Topic:  topic,
		RoomID: roomID,
		Time:   h.now().UTC(),
	}
	if payload == nil {
		return ev, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast").Str("topic", topic).Msg("marshal payload")
		return core.Event{}, false
	}
	ev.Data = data
	return ev, true
}

func (h *Hub) deliver(targets []*client, ev core.Event) core.PublishResult {
	res := core.PublishResult{}
	for _, c := range targets {
		if err := trySend(c.sink, ev); err != nil {
			res.Dropped = append(res.Dropped, c.connectionID)
			h.drop(c, err)
			continue
		}
		res.SentTo++
	}
	if ev.Topic != core.TopicHeartbeat {
		log.Debug().Str("module", "broadcast").Str("topic", ev.Topic).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("publish result")
	}
	return res
}

// trySend treats a panicking sink as a failed send.
func trySend(sink core.Sink, ev core.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.TrySend(ev)
}
