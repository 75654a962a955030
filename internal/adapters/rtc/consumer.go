package rtc

import (
	"github.com/dkeye/liveroom/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	kind      core.MediaKind
	params    core.RtpParameters
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	hooks     core.CloseHooks
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producer.id }
func (c *Consumer) TransportID() string               { return c.transport.id }
func (c *Consumer) Kind() core.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.params }
func (c *Consumer) OnClose(fn func())                 { c.hooks.Add(fn) }

// Pause stops forwarding without renegotiation.
func (c *Consumer) Pause() {
	if ot, ok := c.producer.relay.get(c.id); ok {
		ot.Pause()
	}
}

func (c *Consumer) Resume() {
	if ot, ok := c.producer.relay.get(c.id); ok {
		ot.Resume()
	}
}

func (c *Consumer) Paused() bool {
	ot, ok := c.producer.relay.get(c.id)
	return ok && ot.State() == trackPaused
}

func (c *Consumer) Close() {
	if !c.hooks.Fire() {
		return
	}
	c.producer.relay.kill(c.id)
	c.transport.dropConsumer(c)
	log.Info().Str("module", "webrtc").Str("consumer", c.id).Str("producer", c.producer.id).Msg("consumer closed")
}

// drainRTCP reads RTCP for the sender so interceptors keep running.
func (c *Consumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}
