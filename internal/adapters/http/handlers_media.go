package http

import (
	stdhttp "net/http"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/gin-gonic/gin"
)

func (h *handlers) capabilities(c *gin.Context) {
	caps, err := h.o.Capabilities(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, caps)
}

func (h *handlers) createTransport(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	info, err := h.o.RequestTransport(c.Request.Context(), c.Param("roomID"), cid)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, info)
}

func (h *handlers) connectTransport(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var offer core.SessionDescription
	if !bind(c, &offer) {
		return
	}
	answer, err := h.o.ConnectTransport(c.Request.Context(), c.Param("roomID"), cid, c.Param("transportID"), offer)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, answer)
}

func (h *handlers) renegotiate(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	offer, err := h.o.Renegotiate(c.Request.Context(), c.Param("roomID"), cid, c.Param("transportID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, offer)
}

func (h *handlers) applyAnswer(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var answer core.SessionDescription
	if !bind(c, &answer) {
		return
	}
	if err := h.o.ApplyAnswer(c.Request.Context(), c.Param("roomID"), cid, c.Param("transportID"), answer); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) addCandidate(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var cand core.ICECandidate
	if !bind(c, &cand) {
		return
	}
	if err := h.o.AddICECandidate(c.Request.Context(), c.Param("roomID"), cid, c.Param("transportID"), cand); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) closeTransport(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	if err := h.o.CloseTransport(c.Request.Context(), c.Param("roomID"), cid, c.Param("transportID")); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

type produceRequest struct {
	TransportID   string             `json:"transportId" binding:"required"`
	Kind          core.MediaKind     `json:"kind" binding:"required"`
	RtpParameters core.RtpParameters `json:"rtpParameters"`
}

func (h *handlers) produce(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var req produceRequest
	if !bind(c, &req) {
		return
	}
	info, err := h.o.Produce(c.Request.Context(), c.Param("roomID"), cid, req.TransportID, req.Kind, req.RtpParameters)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, info)
}

func (h *handlers) closeProducer(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	if err := h.o.CloseProducer(c.Request.Context(), c.Param("roomID"), cid, c.Param("producerID")); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) listProducers(c *gin.Context) {
	list, err := h.o.ListProducers(c.Param("roomID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"producers": list})
}

type consumeRequest struct {
	TransportID     string               `json:"transportId" binding:"required"`
	ProducerID      string               `json:"producerId" binding:"required"`
	RtpCapabilities core.RtpCapabilities `json:"rtpCapabilities"`
}

func (h *handlers) consume(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var req consumeRequest
	if !bind(c, &req) {
		return
	}
	info, err := h.o.Consume(c.Request.Context(), c.Param("roomID"), cid, req.TransportID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, info)
}

func (h *handlers) pauseConsumer(c *gin.Context) {
	h.setConsumerPaused(c, true)
}

func (h *handlers) resumeConsumer(c *gin.Context) {
	h.setConsumerPaused(c, false)
}

func (h *handlers) setConsumerPaused(c *gin.Context, paused bool) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var (
		info core.ConsumerInfo
		err  error
	)
	if paused {
		info, err = h.o.PauseConsumer(c.Request.Context(), c.Param("roomID"), cid, c.Param("consumerID"))
	} else {
		info, err = h.o.ResumeConsumer(c.Request.Context(), c.Param("roomID"), cid, c.Param("consumerID"))
	}
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, info)
}

func (h *handlers) closeConsumer(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	if err := h.o.CloseConsumer(c.Request.Context(), c.Param("roomID"), cid, c.Param("consumerID")); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) mediaStats(c *gin.Context) {
	st, err := h.o.MediaStats(c.Param("roomID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, st)
}
