package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"securechat/internal/services"

	"github.com/gin-gonic/gin"
)

type GroupHandler struct {
	service *services.GroupService
	logger  *slog.Logger
}

func NewGroupHandler(service *services.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{service: service, logger: logger}
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	userID := c.GetString("userID")
	group, err := h.service.CreateGroup(c.Request.Context(), req.Name, userID)
	if err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandler) GetUserGroups(c *gin.Context) {
	userID := c.GetString("userID")

	groups, err := h.service.UserGroups(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user groups", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *GroupHandler) JoinGroup(c *gin.Context) {
	groupID := c.Param("id")
	userID := c.GetString("userID")

	if err := h.service.JoinGroup(c.Request.Context(), groupID, userID); err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Joined group"})
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	groupID := c.Param("id")
	userID := c.GetString("userID")

	if err := h.service.LeaveGroup(c.Request.Context(), groupID, userID); err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left group"})
}

func (h *GroupHandler) TransferOwnership(c *gin.Context) {
	var req struct {
		NewOwnerID string `json:"new_owner_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	groupID := c.Param("id")
	userID := c.GetString("userID")

	if err := h.service.TransferOwnership(c.Request.Context(), groupID, userID, req.NewOwnerID); err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Ownership transferred"})
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID := c.Param("id")
	userID := c.GetString("userID")

	if err := h.service.DeleteGroup(c.Request.Context(), groupID, userID); err != nil {
		c.JSON(groupErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

func groupErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrGroupNotFound), errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotGroupMember), errors.Is(err, services.ErrNotGroupOwner),
		errors.Is(err, services.ErrOwnerCannotLeave):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
