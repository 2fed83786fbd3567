package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"securechat/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// MessageMarker is the slice of the message service the hub needs for
// persisting read receipts arriving over the socket.
type MessageMarker interface {
	MarkMessageRead(ctx context.Context, messageID, userID string) error
}

type broadcast struct {
	eventType     string
	groupID       string
	frame         []byte
	origin        *Session
	includeOrigin bool
}

type subscription struct {
	session *Session
	groupID string
	join    bool
}

// Hub owns the room -> sessions mapping and fans events out to room
// subscribers. A single Run loop consumes every channel, so delivery
// order to a room's subscribers matches publish order for that room.
//
// Room membership is client-declared: join_group is never checked
// against actual group membership. Authorization happens only on the
// message persistence path; the broadcast scope trusts the joining
// session.
type Hub struct {
	Sessions map[*Session]bool
	Rooms    map[string]map[*Session]bool

	Register   chan *Session
	Unregister chan *Session
	Subscribe  chan subscription
	Broadcast  chan broadcast

	Messages MessageMarker
	Logger   *slog.Logger
	Mutex    sync.RWMutex

	ActiveSessions prometheus.Gauge
}

func NewHub(messages MessageMarker, logger *slog.Logger) *Hub {
	return &Hub{
		Sessions:   make(map[*Session]bool),
		Rooms:      make(map[string]map[*Session]bool),
		Register:   make(chan *Session),
		Unregister: make(chan *Session),
		Subscribe:  make(chan subscription),
		Broadcast:  make(chan broadcast, 64),
		Messages:   messages,
		Logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case session := <-h.Register:
			h.Mutex.Lock()
			h.Sessions[session] = true
			h.Mutex.Unlock()
			if h.ActiveSessions != nil {
				h.ActiveSessions.Inc()
			}
			h.Logger.Info("session registered", "userID", session.UserID)

		case session := <-h.Unregister:
			h.dropSession(session)

		case sub := <-h.Subscribe:
			h.Mutex.Lock()
			if sub.join {
				if h.Rooms[sub.groupID] == nil {
					h.Rooms[sub.groupID] = make(map[*Session]bool)
				}
				h.Rooms[sub.groupID][sub.session] = true
				sub.session.Rooms[sub.groupID] = true
			} else {
				if sessions, ok := h.Rooms[sub.groupID]; ok {
					delete(sessions, sub.session)
					if len(sessions) == 0 {
						delete(h.Rooms, sub.groupID)
					}
				}
				delete(sub.session.Rooms, sub.groupID)
			}
			h.Mutex.Unlock()
			h.Logger.Debug("room subscription changed",
				"userID", sub.session.UserID,
				"groupID", sub.groupID,
				"joined", sub.join)

		case msg := <-h.Broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg broadcast) {
	h.Mutex.RLock()
	sessions, ok := h.Rooms[msg.groupID]
	if !ok {
		h.Mutex.RUnlock()
		h.Logger.Debug("broadcast to empty room", "groupID", msg.groupID, "event", msg.eventType)
		return
	}

	var stalled []*Session
	for session := range sessions {
		if !msg.includeOrigin && session == msg.origin {
			continue
		}
		select {
		case session.Send <- msg.frame:
		default:
			// A slow subscriber must not stall delivery to others.
			h.Logger.Warn("session send buffer full, dropping session", "userID", session.UserID)
			stalled = append(stalled, session)
		}
	}
	h.Mutex.RUnlock()

	for _, session := range stalled {
		h.dropSession(session)
	}
}

func (h *Hub) dropSession(session *Session) {
	h.Mutex.Lock()
	if !h.Sessions[session] {
		h.Mutex.Unlock()
		return
	}
	delete(h.Sessions, session)
	for groupID := range session.Rooms {
		if sessions, ok := h.Rooms[groupID]; ok {
			delete(sessions, session)
			if len(sessions) == 0 {
				delete(h.Rooms, groupID)
			}
		}
	}
	session.shutdown()
	h.Mutex.Unlock()

	if h.ActiveSessions != nil {
		h.ActiveSessions.Dec()
	}
	h.Logger.Info("session unregistered", "userID", session.UserID)
}

// PublishToRoom fans a typed event out to every subscriber of the
// room. origin is skipped unless includeOrigin is set; pass a nil
// origin with includeOrigin for server-initiated broadcasts.
func (h *Hub) PublishToRoom(eventType, groupID string, payload any, origin *Session, includeOrigin bool) {
	frame, err := models.EncodeEvent(eventType, payload)
	if err != nil {
		h.Logger.Error("failed to encode event", "event", eventType, "error", err)
		return
	}

	h.Broadcast <- broadcast{
		eventType:     eventType,
		groupID:       groupID,
		frame:         frame,
		origin:        origin,
		includeOrigin: includeOrigin,
	}
}

func (h *Hub) handleEvent(session *Session, env models.Envelope) {
	payload, err := models.DecodeEvent(env)
	if err != nil {
		h.Logger.Error("failed to decode event", "userID", session.UserID, "error", err)
		session.sendError("invalid event payload")
		return
	}

	switch event := payload.(type) {
	case models.JoinGroupEvent:
		h.Subscribe <- subscription{session: session, groupID: event.GroupID, join: true}

	case models.LeaveGroupEvent:
		h.Subscribe <- subscription{session: session, groupID: event.GroupID, join: false}

	case models.SendMessageEvent:
		// Identity and timestamp come from the authenticated session,
		// never from the frame.
		h.PublishToRoom(models.EventReceiveMessage, event.GroupID, models.ReceiveMessageEvent{
			Message:    event.Message,
			SenderID:   session.UserID,
			SenderName: session.Email,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}, session, false)

	case models.TypingEvent:
		// Best-effort: typing failures are never retried or surfaced.
		h.PublishToRoom(models.EventUserTyping, event.GroupID, models.UserTypingEvent{
			GroupID: event.GroupID,
			UserID:  session.UserID,
			Email:   session.Email,
		}, session, false)

	case models.MarkReadEvent:
		if err := h.Messages.MarkMessageRead(context.Background(), event.MessageID, session.UserID); err != nil {
			h.Logger.Error("failed to persist read receipt",
				"messageID", event.MessageID,
				"userID", session.UserID,
				"error", err)
			session.sendError("failed to mark message as read")
			return
		}
		// Read receipts go to every subscriber, including the
		// reader's own other sessions.
		h.PublishToRoom(models.EventMessageRead, event.GroupID, models.MessageReadEvent{
			MessageID: event.MessageID,
			UserID:    session.UserID,
		}, session, true)

	default:
		h.Logger.Warn("unexpected client event", "type", env.Type, "userID", session.UserID)
		session.sendError("unsupported event type")
	}
}
