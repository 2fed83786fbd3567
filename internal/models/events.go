package models

import (
	"encoding/json"
	"fmt"
)

// Wire event types. The set is closed: every frame on the websocket is
// an Envelope whose Type is one of these constants, and each type has
// exactly one payload shape below.
const (
	EventJoinGroup      = "join_group"
	EventLeaveGroup     = "leave_group"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventTyping         = "typing"
	EventUserTyping     = "user_typing"
	EventMarkRead       = "mark_read"
	EventMessageRead    = "message_read"
	EventError          = "error"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinGroupEvent struct {
	GroupID string `json:"group_id"`
}

type LeaveGroupEvent struct {
	GroupID string `json:"group_id"`
}

type SendMessageEvent struct {
	GroupID string  `json:"group_id"`
	Message Message `json:"message"`
}

// ReceiveMessageEvent carries the plaintext-bearing live broadcast.
// Sender identity and timestamp are stamped by the server from the
// session, not trusted from the client frame.
type ReceiveMessageEvent struct {
	Message    Message `json:"message"`
	SenderID   string  `json:"sender_id"`
	SenderName string  `json:"sender_name"`
	Timestamp  string  `json:"timestamp"`
}

type TypingEvent struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

type UserTypingEvent struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

type MarkReadEvent struct {
	MessageID string `json:"message_id"`
	GroupID   string `json:"group_id"`
}

type MessageReadEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// DecodeEvent unmarshals the payload for env into its typed variant.
func DecodeEvent(env Envelope) (any, error) {
	var (
		payload any
		err     error
	)

	switch env.Type {
	case EventJoinGroup:
		var e JoinGroupEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventLeaveGroup:
		var e LeaveGroupEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventSendMessage:
		var e SendMessageEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventReceiveMessage:
		var e ReceiveMessageEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventTyping:
		var e TypingEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventUserTyping:
		var e UserTypingEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventMarkRead:
		var e MarkReadEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventMessageRead:
		var e MessageReadEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	case EventError:
		var e ErrorEvent
		err = json.Unmarshal(env.Data, &e)
		payload = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return payload, nil
}

// EncodeEvent wraps a typed payload into a marshalled Envelope frame.
func EncodeEvent(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}
