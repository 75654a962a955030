package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type trackState int32

const (
	trackLive trackState = iota
	trackPaused
	trackDead
)

// rtpWriter is the part of webrtc.TrackLocalStaticRTP the relay needs.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// outTrack is one forwarded copy of a producer, owned by a consumer.
type outTrack struct {
	w     rtpWriter
	state atomic.Int32
}

func newOutTrack(w rtpWriter) *outTrack {
	return &outTrack{w: w}
}

func (o *outTrack) State() trackState { return trackState(o.state.Load()) }

func (o *outTrack) Resume() { o.state.CompareAndSwap(int32(trackPaused), int32(trackLive)) }

func (o *outTrack) Pause() { o.state.CompareAndSwap(int32(trackLive), int32(trackPaused)) }

func (o *outTrack) Kill() { o.state.Store(int32(trackDead)) }
