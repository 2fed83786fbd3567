package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"securechat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessageMarker struct {
	mock.Mock
}

func (m *MockMessageMarker) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func newTestHub(t *testing.T, marker MessageMarker) *Hub {
	t.Helper()
	hub := NewHub(marker, slog.Default())
	go hub.Run()
	return hub
}

func newTestSession(hub *Hub, userID, email string) *Session {
	return NewSession(hub, nil, userID, email)
}

func register(hub *Hub, sessions ...*Session) {
	for _, s := range sessions {
		hub.Register <- s
	}
}

func join(hub *Hub, s *Session, groupID string) {
	hub.Subscribe <- subscription{session: s, groupID: groupID, join: true}
}

func leave(hub *Hub, s *Session, groupID string) {
	hub.Subscribe <- subscription{session: s, groupID: groupID, join: false}
}

func subscriberCount(hub *Hub, groupID string) int {
	hub.Mutex.RLock()
	defer hub.Mutex.RUnlock()
	return len(hub.Rooms[groupID])
}

func recvFrame(t *testing.T, s *Session) models.Envelope {
	t.Helper()
	select {
	case frame := <-s.Send:
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return models.Envelope{}
	}
}

func assertNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case frame := <-s.Send:
		t.Fatalf("unexpected frame delivered: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	session := newTestSession(hub, "user1", "user1@example.com")
	register(hub, session)

	join(hub, session, "g1")
	join(hub, session, "g1")

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "g1") == 1
	}, time.Second, 10*time.Millisecond)

	leave(hub, session, "g1")

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "g1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_LeaveWithoutJoinIsNoop(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	session := newTestSession(hub, "user1", "user1@example.com")
	register(hub, session)

	leave(hub, session, "never-joined")

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "never-joined") == 0
	}, time.Second, 10*time.Millisecond)
}

func sendEvent(t *testing.T, hub *Hub, s *Session, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	hub.handleEvent(s, models.Envelope{Type: eventType, Data: data})
}

func TestHub_MessageExcludesSender(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	sender := newTestSession(hub, "user1", "user1@example.com")
	receiver := newTestSession(hub, "user2", "user2@example.com")
	outsider := newTestSession(hub, "user3", "user3@example.com")
	register(hub, sender, receiver, outsider)

	join(hub, sender, "g1")
	join(hub, receiver, "g1")
	join(hub, outsider, "g2")

	sendEvent(t, hub, sender, models.EventSendMessage, models.SendMessageEvent{
		GroupID: "g1",
		Message: models.Message{ID: "m1", GroupID: "g1", Content: "hi there"},
	})

	env := recvFrame(t, receiver)
	assert.Equal(t, models.EventReceiveMessage, env.Type)

	var received models.ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(env.Data, &received))
	assert.Equal(t, "m1", received.Message.ID)
	assert.Equal(t, "user1", received.SenderID)
	assert.Equal(t, "user1@example.com", received.SenderName)
	assert.NotEmpty(t, received.Timestamp)

	assertNoFrame(t, sender)
	assertNoFrame(t, outsider)
}

func TestHub_PublishOrderPerRoom(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	sender := newTestSession(hub, "user1", "user1@example.com")
	receiver := newTestSession(hub, "user2", "user2@example.com")
	register(hub, sender, receiver)

	join(hub, sender, "g1")
	join(hub, receiver, "g1")

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		sendEvent(t, hub, sender, models.EventSendMessage, models.SendMessageEvent{
			GroupID: "g1",
			Message: models.Message{ID: id, GroupID: "g1"},
		})
	}

	for _, want := range ids {
		env := recvFrame(t, receiver)
		var received models.ReceiveMessageEvent
		require.NoError(t, json.Unmarshal(env.Data, &received))
		assert.Equal(t, want, received.Message.ID)
	}
}

func TestHub_TypingExcludesSender(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	typist := newTestSession(hub, "user1", "user1@example.com")
	watcher := newTestSession(hub, "user2", "user2@example.com")
	register(hub, typist, watcher)

	join(hub, typist, "g1")
	join(hub, watcher, "g1")

	sendEvent(t, hub, typist, models.EventTyping, models.TypingEvent{GroupID: "g1", UserID: "user1"})

	env := recvFrame(t, watcher)
	assert.Equal(t, models.EventUserTyping, env.Type)

	var typing models.UserTypingEvent
	require.NoError(t, json.Unmarshal(env.Data, &typing))
	assert.Equal(t, "user1", typing.UserID)
	assert.Equal(t, "g1", typing.GroupID)

	assertNoFrame(t, typist)
}

func TestHub_ReadReceiptIncludesReader(t *testing.T) {
	marker := &MockMessageMarker{}
	marker.On("MarkMessageRead", mock.Anything, "m1", "user2").Return(nil)

	hub := newTestHub(t, marker)
	reader := newTestSession(hub, "user2", "user2@example.com")
	other := newTestSession(hub, "user1", "user1@example.com")
	register(hub, reader, other)

	join(hub, reader, "g1")
	join(hub, other, "g1")

	sendEvent(t, hub, reader, models.EventMarkRead, models.MarkReadEvent{MessageID: "m1", GroupID: "g1"})

	for _, session := range []*Session{reader, other} {
		env := recvFrame(t, session)
		assert.Equal(t, models.EventMessageRead, env.Type)

		var receipt models.MessageReadEvent
		require.NoError(t, json.Unmarshal(env.Data, &receipt))
		assert.Equal(t, "m1", receipt.MessageID)
		assert.Equal(t, "user2", receipt.UserID)
	}

	marker.AssertExpectations(t)
}

func TestHub_ReadReceiptPersistFailureSendsError(t *testing.T) {
	marker := &MockMessageMarker{}
	marker.On("MarkMessageRead", mock.Anything, "m1", "user2").Return(assert.AnError)

	hub := newTestHub(t, marker)
	reader := newTestSession(hub, "user2", "user2@example.com")
	register(hub, reader)
	join(hub, reader, "g1")

	sendEvent(t, hub, reader, models.EventMarkRead, models.MarkReadEvent{MessageID: "m1", GroupID: "g1"})

	env := recvFrame(t, reader)
	assert.Equal(t, models.EventError, env.Type)
	marker.AssertExpectations(t)
}

func TestHub_DisconnectDiscardsSubscriptions(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	session := newTestSession(hub, "user1", "user1@example.com")
	register(hub, session)

	join(hub, session, "g1")
	join(hub, session, "g2")

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "g1") == 1 && subscriberCount(hub, "g2") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Unregister <- session

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "g1") == 0 && subscriberCount(hub, "g2") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_DroppedSessionToleratesLateFrames(t *testing.T) {
	hub := newTestHub(t, &MockMessageMarker{})
	stalled := newTestSession(hub, "user1", "user1@example.com")
	sender := newTestSession(hub, "user2", "user2@example.com")
	register(hub, stalled, sender)

	join(hub, stalled, "g1")
	join(hub, sender, "g1")

	for i := 0; i < cap(stalled.Send); i++ {
		stalled.Send <- []byte("{}")
	}

	sendEvent(t, hub, sender, models.EventSendMessage, models.SendMessageEvent{
		GroupID: "g1",
		Message: models.Message{ID: "m1", GroupID: "g1"},
	})

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "g1") == 1
	}, time.Second, 10*time.Millisecond)

	// The read pump keeps running until its next read fails, so it can
	// still emit in-band errors after the hub dropped the session.
	require.NotPanics(t, func() {
		stalled.sendError("invalid frame")
	})
	require.NotPanics(t, func() {
		sendEvent(t, hub, stalled, models.EventTyping, models.TypingEvent{GroupID: "g1"})
	})
}
