package handlers

import (
	"log/slog"
	"net/http"

	"securechat/internal/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type MessageHandler struct {
	messages *services.MessageService
	suggest  *services.SuggestService
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewMessageHandler(messages *services.MessageService, suggest *services.SuggestService, logger *slog.Logger, tracer trace.Tracer) *MessageHandler {
	return &MessageHandler{messages: messages, suggest: suggest, logger: logger, tracer: tracer}
}

// SendMessage persists one ciphertext envelope. Live fan-out happens
// over the websocket, not here.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		GroupID string `json:"group_id"`
		Content string `json:"content"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "message.send",
		trace.WithAttributes(attribute.String("group.id", req.GroupID)))
	defer span.End()

	userID := c.GetString("userID")
	message, err := h.messages.Send(ctx, userID, req.GroupID, req.Content)
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("send message failed", "groupID", req.GroupID, "error", err)
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": message})
}

func (h *MessageHandler) GetGroupMessages(c *gin.Context) {
	groupID := c.Param("id")
	userID := c.GetString("userID")

	messages, err := h.messages.GroupMessages(c.Request.Context(), userID, groupID)
	if err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	h.logger.Debug("returning group messages", "groupID", groupID, "count", len(messages))
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID := c.Param("id")
	userID := c.GetString("userID")

	if err := h.messages.MarkMessageRead(c.Request.Context(), messageID, userID); err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}

func (h *MessageHandler) GetSuggestions(c *gin.Context) {
	messageID := c.Param("id")

	suggestions, err := h.suggest.RepliesFor(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}
