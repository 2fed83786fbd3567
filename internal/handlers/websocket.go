package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"securechat/internal/services"
	internalWebsocket "securechat/internal/websocet"

	"github.com/gin-gonic/gin"
)

type WebsocketHandler struct {
	Hub         *internalWebsocket.Hub
	AuthService *services.AuthService
	Logger      *slog.Logger
}

func NewWebSocketHandler(hub *internalWebsocket.Hub, authService *services.AuthService, logger *slog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		Hub:         hub,
		AuthService: authService,
		Logger:      logger,
	}
}

// HandleWebSocket authenticates the handshake and hands the connection
// to the hub. Rejections happen before the upgrade so the client sees
// a plain HTTP status.
func (h *WebsocketHandler) HandleWebSocket(c *gin.Context) {
	token := handshakeToken(c)
	if token == "" {
		h.Logger.Warn("websocket handshake without token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrMissingToken.Error()})
		return
	}

	identity, err := h.AuthService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.Logger.Warn("unauthorized websocket connection attempt", "error", err)
		switch {
		case errors.Is(err, services.ErrExpiredToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrExpiredToken.Error()})
		case errors.Is(err, services.ErrMissingToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrMissingToken.Error()})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrInvalidToken.Error()})
		}
		return
	}

	conn, err := internalWebsocket.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session := internalWebsocket.NewSession(h.Hub, conn, identity.UserID, identity.Email)
	h.Hub.Register <- session

	go session.WritePump()
	go session.ReadPump()

	h.Logger.Info("websocket connection established", "userID", identity.UserID)
}

func handshakeToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Request.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
