package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"securechat/internal/codec"
	"securechat/internal/models"
)

// Chat wires the codec, the persistence client, the connector and the
// reconciler into one client-side facade. Send path: encrypt, persist
// the ciphertext, insert the plaintext copy locally, then publish the
// live event; the broadcast echo of our own message is dropped by the
// reconciler's self check.
type Chat struct {
	self      string
	codec     *codec.Codec
	api       *APIClient
	connector *Connector
	state     *Reconciler
	logger    *slog.Logger
}

func NewChat(self string, c *codec.Codec, api *APIClient, transport Transport, opts Options, logger *slog.Logger) *Chat {
	chat := &Chat{
		self:   self,
		codec:  c,
		api:    api,
		logger: logger,
	}

	chat.connector = NewConnector(transport, opts, chat.dispatch, logger)
	chat.state = NewReconciler(self, c, api, api, chat.connector, logger)
	return chat
}

func (c *Chat) Connect(ctx context.Context) error {
	return c.connector.Connect(ctx)
}

func (c *Chat) Close() error {
	return c.connector.Close()
}

func (c *Chat) State() *Reconciler {
	return c.state
}

func (c *Chat) ConnectionState() State {
	return c.connector.State()
}

// dispatch routes decoded live events into the reconciliation state.
func (c *Chat) dispatch(payload any) {
	switch event := payload.(type) {
	case models.ReceiveMessageEvent:
		msg := event.Message
		msg.Content = c.codec.DecryptLenient(msg.Content)
		msg.SenderID = event.SenderID
		if msg.SenderName == "" {
			msg.SenderName = event.SenderName
		}
		if msg.CreatedAt.IsZero() {
			if ts, err := time.Parse(time.RFC3339, event.Timestamp); err == nil {
				msg.CreatedAt = ts
			} else {
				msg.CreatedAt = time.Now().UTC()
			}
		}
		c.state.OnLiveMessage(msg)

	case models.UserTypingEvent:
		c.state.OnTyping(event.GroupID, event.UserID)

	case models.MessageReadEvent:
		c.state.OnReadReceipt(event.MessageID, event.UserID)

	case models.ErrorEvent:
		c.logger.Warn("server reported transport error", "message", event.Message)

	default:
		c.logger.Debug("ignoring event", "payload", fmt.Sprintf("%T", payload))
	}
}

func (c *Chat) SetActiveGroup(ctx context.Context, groupID string) error {
	return c.state.SetActiveGroup(ctx, groupID)
}

// SendMessage encrypts, persists and broadcasts one message. A codec
// failure aborts the send before anything is persisted or published.
func (c *Chat) SendMessage(ctx context.Context, groupID, plaintext string) (models.Message, error) {
	ciphertext, err := c.codec.Encrypt(plaintext)
	if err != nil {
		return models.Message{}, fmt.Errorf("encrypt message: %w", err)
	}

	stored, err := c.api.SendMessage(ctx, groupID, ciphertext)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	local := stored
	local.Content = plaintext
	c.state.InsertLocal(local)

	// The live broadcast rides the connector's retry-once contract; a
	// second failure is surfaced but the message is already durable.
	if err := c.connector.Publish(models.EventSendMessage, models.SendMessageEvent{
		GroupID: groupID,
		Message: stored,
	}); err != nil {
		return local, fmt.Errorf("message persisted but live publish failed: %w", err)
	}

	return local, nil
}

// MarkRead records a read receipt through the transport; the server
// persists it and fans message_read out to the room.
func (c *Chat) MarkRead(groupID, messageID string) error {
	return c.connector.Publish(models.EventMarkRead, models.MarkReadEvent{
		MessageID: messageID,
		GroupID:   groupID,
	})
}

// SetTyping signals the typing indicator. Best-effort: failures are
// logged, never retried.
func (c *Chat) SetTyping(groupID string) {
	err := c.connector.TrySend(models.EventTyping, models.TypingEvent{
		GroupID: groupID,
		UserID:  c.self,
	})
	if err != nil {
		c.logger.Debug("typing signal dropped", "groupID", groupID, "error", err)
	}
}

// Suggestions fetches reply suggestions for a message; on any failure
// the fixed fallback list is returned so the caller always has
// something to offer.
func (c *Chat) Suggestions(ctx context.Context, messageID string) []models.Suggestion {
	suggestions, err := c.api.Suggestions(ctx, messageID)
	if err != nil || len(suggestions) == 0 {
		c.logger.Warn("falling back to default suggestions", "error", err)
		return FallbackSuggestions()
	}
	return suggestions
}

// FallbackSuggestions is the deterministic list used when the
// suggestion service is unavailable.
func FallbackSuggestions() []models.Suggestion {
	return []models.Suggestion{
		{Text: "Got it.", Confidence: 0.5},
		{Text: "Okay", Confidence: 0.5},
		{Text: "Thanks!", Confidence: 0.5},
	}
}
