// Package orch coordinates the room registry, the broadcast hub and the
// media adapter into the flows a client sees.
package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/liveroom/internal/app"
	"github.com/dkeye/liveroom/internal/app/broadcast"
	"github.com/dkeye/liveroom/internal/app/sfu"
	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/storage"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Rooms    core.RoomRegistry
	Registry *app.Registry
	Hub      *broadcast.Hub
	Media    *sfu.Adapter
	// Store and Limiter are optional.
	Store   storage.EventStore
	Limiter *app.RoomRateLimiter

	HistoryLimit int

	locks roomLocks
	now   func() time.Time
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// roomLocks serializes state changes and their publishes per room.
type roomLocks struct {
	mu sync.Mutex
	m  map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func (l *roomLocks) lock(roomID string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*roomLock)
	}
	rl, ok := l.m[roomID]
	if !ok {
		rl = &roomLock{}
		l.m[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.m, roomID)
		}
		l.mu.Unlock()
	}
}

// Connect registers a push connection. The returned func runs the full
// disconnect cleanup and is safe to call more than once.
func (o *Orchestrator) Connect(connectionID, userID string, sink core.Sink, cancel context.CancelFunc) (disconnect func()) {
	o.Registry.Bind(connectionID, userID, cancel)
	unsubscribe := o.Hub.Subscribe(connectionID, userID, sink)
	var once sync.Once
	return func() {
		once.Do(func() {
			o.OnDisconnect(context.Background(), connectionID)
			unsubscribe()
		})
	}
}

// OnDisconnect leaves every room the connection is in, closing the
// transports it owned. The connection is detached first so a racing Join or
// RequestTransport cannot add state after the room snapshot.
func (o *Orchestrator) OnDisconnect(ctx context.Context, connectionID string) {
	rooms := o.Registry.Detach(connectionID)
	for _, roomID := range rooms {
		if err := o.Leave(ctx, roomID, connectionID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("cid", connectionID).Str("room", roomID).Msg("leave on disconnect")
		}
	}
	o.Registry.Unbind(connectionID)
	log.Info().Str("module", "orch").Str("cid", connectionID).Int("rooms", len(rooms)).Msg("connection cleaned up")
}

// memberOf finds the connection's participant in the room.
func (o *Orchestrator) memberOf(roomID, connectionID string) (domain.Participant, bool) {
	for _, m := range o.Rooms.Members(roomID) {
		if m.ConnectionID == connectionID {
			return m.Participant, true
		}
	}
	return domain.Participant{}, false
}

// requireConnection fails for connections that are gone or closing.
func (o *Orchestrator) requireConnection(connectionID string) error {
	if _, ok := o.Registry.UserOf(connectionID); !ok {
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	return nil
}

func (o *Orchestrator) requireRoom(roomID string) (domain.Room, error) {
	return o.Rooms.GetRoom(roomID)
}

func (o *Orchestrator) requireMember(roomID, connectionID string) (domain.Participant, error) {
	if _, err := o.requireRoom(roomID); err != nil {
		return domain.Participant{}, err
	}
	p, ok := o.memberOf(roomID, connectionID)
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: connection %s has not joined room %s", domain.ErrRejected, connectionID, roomID)
	}
	return p, nil
}

// requireTransport checks that connectionID owns the transport. Transports of
// other connections are reported as unknown.
func (o *Orchestrator) requireTransport(roomID, connectionID, transportID string) error {
	if _, err := o.requireRoom(roomID); err != nil {
		return err
	}
	owner, ok := o.Registry.OwnerOf(roomID, transportID)
	if !ok || owner != connectionID {
		return fmt.Errorf("transport %s: %w", transportID, domain.ErrNotFound)
	}
	return nil
}
