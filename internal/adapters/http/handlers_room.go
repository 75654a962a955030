package http

import (
	"fmt"
	stdhttp "net/http"
	"strconv"

	"github.com/dkeye/liveroom/internal/app/orch"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

type handlers struct {
	o *orch.Orchestrator
}

// connection returns the push connection named by X-Connection-ID. It must
// belong to the caller.
func (h *handlers) connection(c *gin.Context) (string, bool) {
	cid := c.GetHeader(HeaderConnectionID)
	if cid == "" {
		abort(c, domain.Invalid("missing "+HeaderConnectionID+" header"))
		return "", false
	}
	owner, ok := h.o.Registry.UserOf(cid)
	if !ok {
		abort(c, fmt.Errorf("connection %s: %w", cid, domain.ErrNotFound))
		return "", false
	}
	if owner != userID(c) {
		abort(c, fmt.Errorf("%w: connection %s belongs to another user", domain.ErrRejected, cid))
		return "", false
	}
	return cid, true
}

type createRoomRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *handlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if !bind(c, &req) {
		return
	}
	if req.ID == "" {
		req.ID = xid.New().String()
	}
	room, err := h.o.CreateRoom(c.Request.Context(), req.ID, req.Title, req.Description, userID(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, room)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"rooms": h.o.ListRooms()})
}

func (h *handlers) getRoom(c *gin.Context) {
	room, err := h.o.GetRoom(c.Param("roomID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, room)
}

func (h *handlers) updateRoom(c *gin.Context) {
	var req domain.RoomUpdate
	if !bind(c, &req) {
		return
	}
	room, err := h.o.UpdateRoom(c.Request.Context(), c.Param("roomID"), userID(c), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, room)
}

func (h *handlers) participants(c *gin.Context) {
	ps, err := h.o.Participants(c.Param("roomID"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"participants": ps})
}

type joinRequest struct {
	DisplayName string      `json:"displayName"`
	Role        domain.Role `json:"role"`
}

func (h *handlers) join(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	p := domain.Participant{ID: userID(c), DisplayName: req.DisplayName, Role: req.Role}
	state, err := h.o.Join(c.Request.Context(), c.Param("roomID"), cid, p)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, state)
}

func (h *handlers) leave(c *gin.Context) {
	cid, ok := h.connection(c)
	if !ok {
		return
	}
	if err := h.o.Leave(c.Request.Context(), c.Param("roomID"), cid); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

type kickRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

func (h *handlers) kick(c *gin.Context) {
	var req kickRequest
	if !bind(c, &req) {
		return
	}
	if err := h.o.Kick(c.Request.Context(), c.Param("roomID"), userID(c), req.ParticipantID); err != nil {
		abort(c, err)
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

func (h *handlers) react(c *gin.Context) {
	var req reactionRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.o.React(c.Request.Context(), c.Param("roomID"), userID(c), req.Reaction)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, ev)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *handlers) comment(c *gin.Context) {
	var req commentRequest
	if !bind(c, &req) {
		return
	}
	ev, err := h.o.Comment(c.Request.Context(), c.Param("roomID"), userID(c), req.Text)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, ev)
}

func (h *handlers) history(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			abort(c, domain.Invalid("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	events, err := h.o.History(c.Request.Context(), c.Param("roomID"), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"events": events})
}

type notifyRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
	Data    any      `json:"data"`
}

// notify is reserved for upstream-verified callers.
func (h *handlers) notify(c *gin.Context) {
	if !c.GetBool(contextVerified) {
		abort(c, fmt.Errorf("%w: guests cannot send notifications", domain.ErrRejected))
		return
	}
	var req notifyRequest
	if !bind(c, &req) {
		return
	}
	res := h.o.Notify(req.UserIDs, req.Data)
	c.JSON(stdhttp.StatusAccepted, gin.H{"sentTo": res.SentTo, "dropped": len(res.Dropped)})
}
