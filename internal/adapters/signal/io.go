package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/liveroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.flush()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// flush writes what is already queued, e.g. the kicked notice sent right
// before the connection is canceled.
func (c *WsSignalConn) flush() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, s *session, done func()) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", s.cid).Msg("readPump closing")
		done()
		s.conn.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	s.conn.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.conn.SetPongHandler(func(string) error {
		return s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("cid", s.cid).Msg("readPump ctx done")
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("cid", s.cid).Msg("readPump read error")
				}
				return
			}
			_ = s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, s, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *session, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", s.cid).Msg("bad json")
		ctl.sendError(s.conn, "", domain.Invalid("malformed message"))
		return
	}

	h, ok := ctl.handlers[req.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.sendError(s.conn, req.RequestID, domain.Invalid("unknown message type "+req.Type))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := h(ctx, s, &req)
	if err != nil {
		level := log.Debug()
		if domain.Code(err) == "internal" || errors.Is(err, domain.ErrFatal) {
			level = log.Error()
		}
		level.Err(err).Str("module", "signal").Str("cid", s.cid).Str("type", req.Type).Msg("request failed")
		ctl.sendError(s.conn, req.RequestID, err)
		return
	}
	if resp == nil {
		return
	}
	ctl.sendJSON(s.conn, response{Type: req.Type, RequestID: req.RequestID, Data: resp})
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, requestID string, err error) {
	ctl.sendJSON(c, errorFrame{
		Type:      "error",
		Code:      domain.Code(err),
		Error:     err.Error(),
		RequestID: requestID,
	})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.trySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}
