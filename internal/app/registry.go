package app

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

type transportKey struct {
	roomID      string
	transportID string
}

type connEntry struct {
	userID     string
	rooms      map[string]struct{}
	transports map[transportKey]struct{}
	cancel     context.CancelFunc
	closing    bool
}

// Registry tracks what each client connection holds: the rooms it joined and
// the transports it owns. It is what lets a closed connection be cleaned up.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connEntry
	owners map[transportKey]string
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*connEntry),
		owners: make(map[transportKey]string),
	}
}

func (r *Registry) entry(cid string) *connEntry {
	e, ok := r.conns[cid]
	if !ok {
		e = &connEntry{
			rooms:      make(map[string]struct{}),
			transports: make(map[transportKey]struct{}),
		}
		r.conns[cid] = e
	}
	return e
}

// Bind records a live connection. cancel, when set, tears the connection down.
func (r *Registry) Bind(cid, userID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(cid)
	e.userID = userID
	e.cancel = cancel
	log.Info().Str("module", "app.registry").Str("cid", cid).Str("user", userID).Msg("bound connection")
}

// Unbind forgets the connection and every ownership record it had.
func (r *Registry) Unbind(cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return
	}
	for k := range e.transports {
		delete(r.owners, k)
	}
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", cid).Msg("unbind connection")
}

// Detach marks the connection as closing and returns the rooms it is in.
// From then on it takes no new rooms or transports.
func (r *Registry) Detach(cid string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return nil
	}
	e.closing = true
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UserOf reports the user of a bound connection that is not closing.
func (r *Registry) UserOf(cid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.closing {
		return "", false
	}
	return e.userID, true
}

// live returns the entry of a bound, non-closing connection. Caller holds mu.
func (r *Registry) live(cid string) (*connEntry, bool) {
	e, ok := r.conns[cid]
	if !ok || e.closing {
		return nil, false
	}
	return e, true
}

// AddRoom records a joined room. It reports false for unknown or closing
// connections.
func (r *Registry) AddRoom(cid, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(cid)
	if !ok {
		return false
	}
	e.rooms[roomID] = struct{}{}
	return true
}

func (r *Registry) RemoveRoom(cid, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[cid]; ok {
		delete(e.rooms, roomID)
	}
}

func (r *Registry) AddTransport(cid, roomID, transportID string) bool {
	k := transportKey{roomID: roomID, transportID: transportID}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(cid)
	if !ok {
		return false
	}
	e.transports[k] = struct{}{}
	r.owners[k] = cid
	return true
}

func (r *Registry) RemoveTransport(roomID, transportID string) {
	k := transportKey{roomID: roomID, transportID: transportID}
	r.mu.Lock()
	defer r.mu.Unlock()
	cid, ok := r.owners[k]
	if !ok {
		return
	}
	delete(r.owners, k)
	if e, ok := r.conns[cid]; ok {
		delete(e.transports, k)
	}
}

// TransportsOf lists the transports cid owns inside roomID.
func (r *Registry) TransportsOf(cid, roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.transports))
	for k := range e.transports {
		if k.roomID == roomID {
			out = append(out, k.transportID)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) OwnerOf(roomID, transportID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.owners[transportKey{roomID: roomID, transportID: transportID}]
	return cid, ok
}

// Cancel closes the underlying connection if its adapter registered a cancel.
func (r *Registry) Cancel(cid string) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	log.Info().Str("module", "app.registry").Str("cid", cid).Msg("canceled connection")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
