package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errClosed = errors.New("webrtc: closed")

type Worker struct {
	id         string
	api        *webrtc.API
	iceServers []core.ICEServer
	codecs     []core.Codec

	died     chan error
	dieOnce  sync.Once
	mu       sync.Mutex
	routers  map[string]*Router
	isClosed bool
}

func newWorker(id string, api *webrtc.API, ice []core.ICEServer) *Worker {
	return &Worker{
		id:         id,
		api:        api,
		iceServers: ice,
		codecs:     Codecs(),
		died:       make(chan error, 1),
		routers:    make(map[string]*Router),
	}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Died() <-chan error { return w.died }

// fail reports the worker as unusable. Only the first report is kept.
func (w *Worker) fail(err error) {
	w.dieOnce.Do(func() {
		log.Error().Err(err).Str("module", "webrtc").Str("worker", w.id).Msg("worker failed")
		w.died <- err
	})
}

func (w *Worker) CreateRouter(_ context.Context, roomID string) (core.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isClosed {
		return nil, errClosed
	}
	r := &Router{
		id:         uuid.NewString(),
		roomID:     roomID,
		worker:     w,
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) forget(r *Router) {
	w.mu.Lock()
	delete(w.routers, r.id)
	w.mu.Unlock()
}

func (w *Worker) Close() {
	w.mu.Lock()
	w.isClosed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}
