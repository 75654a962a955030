package sse

import (
	"context"
	"io"
	"net/http"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const EventHello = "hello"

// Connector registers a push connection; the returned func cleans it up.
type Connector interface {
	Connect(connectionID, userID string, sink core.Sink, cancel context.CancelFunc) (disconnect func())
}

type Hello struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

// Handler serves one event stream per request. The first frame is a hello
// carrying the connection id that HTTP signaling calls refer to.
func Handler(conn Connector, buffer int, userOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := uuid.NewString()
		userID := ""
		if userOf != nil {
			userID = userOf(c)
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		sink := NewSink(buffer)
		disconnect := conn.Connect(cid, userID, sink, cancel)
		defer disconnect()

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		if err := sse.Encode(c.Writer, sse.Event{Event: EventHello, Data: Hello{ConnectionID: cid, UserID: userID}}); err != nil {
			return
		}
		c.Writer.Flush()
		log.Info().Str("module", "sse").Str("cid", cid).Str("user", userID).Msg("stream opened")

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-sink.Done():
				return false
			case ev := <-sink.Events():
				if err := writeEvent(w, ev); err != nil {
					log.Debug().Err(err).Str("module", "sse").Str("cid", cid).Msg("write failed")
					return false
				}
				return true
			}
		})
		log.Info().Str("module", "sse").Str("cid", cid).Msg("stream closed")
	}
}

func writeEvent(w io.Writer, ev core.Event) error {
	if ev.Topic == core.TopicHeartbeat {
		_, err := io.WriteString(w, ": heartbeat\n\n")
		return err
	}
	return sse.Encode(w, sse.Event{Event: ev.Topic, Id: ev.ID, Data: ev})
}
