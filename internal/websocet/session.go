package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"securechat/internal/models"

	"github.com/gorilla/websocket"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session is one authenticated live connection. It exists only while
// the transport connection is open; its room subscriptions are
// discarded on disconnect and never persisted.
type Session struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	Email  string
	Rooms  map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(hub *Hub, conn *websocket.Conn, userID, email string) *Session {
	return &Session{
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: userID,
		Email:  email,
		Rooms:  make(map[string]bool),
		done:   make(chan struct{}),
	}
}

// shutdown tells the write pump to finish. Send is never closed; the
// read pump may still attempt in-band error notices after the hub has
// dropped the session, and those must be silently discarded rather
// than panic on a closed channel.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) ReadPump() {
	defer func() {
		s.Hub.Unregister <- s
		s.Conn.Close()
	}()

	for {
		_, frame, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Hub.Logger.Error("websocket error", "userID", s.UserID, "error", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.Hub.Logger.Error("failed to parse frame", "userID", s.UserID, "error", err)
			s.sendError("invalid frame")
			continue
		}

		s.Hub.handleEvent(s, env)
	}
}

func (s *Session) WritePump() {
	defer func() {
		s.Conn.Close()
	}()

	for {
		select {
		case frame := <-s.Send:
			w, err := s.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			w.Write(frame)

			if err := w.Close(); err != nil {
				return
			}
		case <-s.done:
			s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// sendError delivers a non-fatal in-band error notice; dropped if the
// session buffer is full.
func (s *Session) sendError(message string) {
	frame, err := models.EncodeEvent(models.EventError, models.ErrorEvent{Message: message})
	if err != nil {
		return
	}
	select {
	case s.Send <- frame:
	default:
	}
}
