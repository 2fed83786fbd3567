package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"securechat/internal/codec"
	"securechat/internal/models"

	"github.com/google/uuid"
)

type IGroupRepository interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroupByID(ctx context.Context, groupID string) (*models.Group, error)
	GetUserGroups(ctx context.Context, userID string) ([]models.Group, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	SetOwner(ctx context.Context, groupID, userID string) error
	DeleteGroup(ctx context.Context, groupID string) error
}

type IMessageRepository interface {
	CreateMessage(ctx context.Context, message *models.Message) error
	GetGroupMessages(ctx context.Context, groupID string) ([]models.Message, error)
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
	GetRecentMessages(ctx context.Context, groupID string, limit int) ([]models.Message, error)
	AddReader(ctx context.Context, messageID, userID string) error
	DeleteMessagesByGroupID(ctx context.Context, groupID string) error
}

// MessageService owns the persistence path. This is the only place
// sender authorization is checked: the broadcast path deliberately
// trusts client-declared room subscriptions (see the hub).
type MessageService struct {
	groupRepo   IGroupRepository
	messageRepo IMessageRepository
	codec       *codec.Codec
	logger      *slog.Logger
}

func NewMessageService(groupRepo IGroupRepository, messageRepo IMessageRepository, c *codec.Codec, logger *slog.Logger) *MessageService {
	return &MessageService{
		groupRepo:   groupRepo,
		messageRepo: messageRepo,
		codec:       c,
		logger:      logger,
	}
}

// Send stores one ciphertext envelope. The envelope must strict-decode
// under the process key: a payload that cannot be decrypted would be
// unreadable forever, so the send fails closed instead of persisting
// it.
func (s *MessageService) Send(ctx context.Context, senderID, groupID, ciphertext string) (*models.Message, error) {
	if senderID == "" || groupID == "" || ciphertext == "" {
		return nil, ErrInvalidInput
	}

	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		s.logger.Error("failed to check group existence", "groupID", groupID, "error", err)
		return nil, err
	}
	if group == nil {
		s.logger.Warn("group not found", "groupID", groupID)
		return nil, ErrGroupNotFound
	}

	if !group.HasMember(senderID) {
		s.logger.Warn("sender is not a member of the group", "userID", senderID, "groupID", groupID)
		return nil, ErrNotGroupMember
	}

	if _, err := s.codec.Decrypt(ciphertext); err != nil {
		s.logger.Error("message payload failed strict decryption", "groupID", groupID, "error", err)
		return nil, err
	}

	message := &models.Message{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   ciphertext,
		ReadBy:    []string{senderID},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.messageRepo.CreateMessage(ctx, message); err != nil {
		s.logger.Error("failed to store message", "groupID", groupID, "senderID", senderID, "error", err)
		return nil, err
	}

	s.logger.Info("message stored", "messageID", message.ID, "groupID", groupID, "senderID", senderID)
	return message, nil
}

// GroupMessages returns the full history for a member, ciphertext as
// stored, ascending by creation time.
func (s *MessageService) GroupMessages(ctx context.Context, userID, groupID string) ([]models.Message, error) {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		s.logger.Error("failed to check group existence", "groupID", groupID, "error", err)
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.HasMember(userID) {
		return nil, ErrNotGroupMember
	}

	messages, err := s.messageRepo.GetGroupMessages(ctx, groupID)
	if err != nil {
		s.logger.Error("failed to get group messages", "groupID", groupID, "error", err)
		return nil, err
	}

	s.logger.Debug("retrieved group messages", "groupID", groupID, "messageCount", len(messages))
	return messages, nil
}

// MarkMessageRead appends userID to the message's readBy set.
// Idempotent: marking twice is the same as marking once.
func (s *MessageService) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	if messageID == "" || userID == "" {
		return ErrInvalidInput
	}

	message, err := s.messageRepo.GetMessageByID(ctx, messageID)
	if err != nil {
		s.logger.Error("failed to load message", "messageID", messageID, "error", err)
		return err
	}
	if message == nil {
		return ErrMessageNotFound
	}

	if message.IsReadBy(userID) {
		return nil
	}

	if err := s.messageRepo.AddReader(ctx, messageID, userID); err != nil {
		s.logger.Error("failed to record reader", "messageID", messageID, "userID", userID, "error", err)
		return err
	}

	s.logger.Debug("message marked read", "messageID", messageID, "userID", userID)
	return nil
}

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrGroupNotFound    = errors.New("group not found")
	ErrNotGroupMember   = errors.New("user is not a member of this group")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotGroupOwner    = errors.New("user is not the owner of this group")
	ErrOwnerCannotLeave = errors.New("owner must transfer ownership before leaving")
)
