package orch

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/storage"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	MaxReactionLen = 32
	MaxCommentLen  = 500
)

func (o *Orchestrator) React(ctx context.Context, roomID, userID, reaction string) (storage.RoomEvent, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" || utf8.RuneCountInString(reaction) > MaxReactionLen {
		return storage.RoomEvent{}, domain.Invalid("reaction must be 1-32 characters")
	}
	return o.sideEvent(ctx, roomID, userID, storage.KindReaction, TopicReaction, reaction)
}

func (o *Orchestrator) Comment(ctx context.Context, roomID, userID, text string) (storage.RoomEvent, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxCommentLen {
		return storage.RoomEvent{}, domain.Invalid("comment must be 1-500 characters")
	}
	return o.sideEvent(ctx, roomID, userID, storage.KindComment, TopicComment, text)
}

// sideEvent publishes to the room, then writes through to the store. A store
// failure is logged only.
func (o *Orchestrator) sideEvent(ctx context.Context, roomID, userID, kind, topic, text string) (storage.RoomEvent, error) {
	ev := storage.RoomEvent{
		ID:     xid.New().String(),
		RoomID: roomID,
		Kind:   kind,
		UserID: userID,
		Text:   text,
		Time:   o.clock().UTC(),
	}

	unlock := o.locks.lock(roomID)
	if _, err := o.requireRoom(roomID); err != nil {
		unlock()
		return storage.RoomEvent{}, err
	}
	o.Hub.PublishToRoom(roomID, topic, ChatEvent{Type: topic, RoomID: roomID, Event: ev}, "")
	unlock()

	if o.Store != nil {
		if err := o.Store.Append(ctx, ev); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", roomID).Str("kind", kind).Msg("store write-through failed")
		}
	}
	return ev, nil
}

// History returns the latest persisted reactions and comments, oldest first.
func (o *Orchestrator) History(ctx context.Context, roomID string, limit int) ([]storage.RoomEvent, error) {
	if o.Store == nil {
		return []storage.RoomEvent{}, nil
	}
	if limit <= 0 || (o.HistoryLimit > 0 && limit > o.HistoryLimit) {
		limit = o.HistoryLimit
	}
	return o.Store.Recent(ctx, roomID, limit)
}

// Notify pushes a notification to every connection of the given users.
func (o *Orchestrator) Notify(userIDs []string, data any) core.PublishResult {
	return o.Hub.PublishToUsers(userIDs, TopicNotification, NotificationEvent{Type: TopicNotification, Data: data})
}
