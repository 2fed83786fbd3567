package services

import (
	"context"
	"log/slog"
	"time"

	"securechat/internal/models"

	"github.com/google/uuid"
)

type GroupService struct {
	groupRepo   IGroupRepository
	messageRepo IMessageRepository
	logger      *slog.Logger
}

func NewGroupService(groupRepo IGroupRepository, messageRepo IMessageRepository, logger *slog.Logger) *GroupService {
	return &GroupService{
		groupRepo:   groupRepo,
		messageRepo: messageRepo,
		logger:      logger,
	}
}

// CreateGroup creates a group owned by creatorID. The owner is always
// a member.
func (s *GroupService) CreateGroup(ctx context.Context, name, creatorID string) (*models.Group, error) {
	if name == "" || creatorID == "" {
		return nil, ErrInvalidInput
	}

	group := &models.Group{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   creatorID,
		Members:   []string{creatorID},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.groupRepo.CreateGroup(ctx, group); err != nil {
		s.logger.Error("failed to create group", "name", name, "ownerID", creatorID, "error", err)
		return nil, err
	}

	s.logger.Info("group created", "groupID", group.ID, "ownerID", creatorID)
	return group, nil
}

func (s *GroupService) UserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	groups, err := s.groupRepo.GetUserGroups(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list user groups", "userID", userID, "error", err)
		return nil, err
	}
	return groups, nil
}

func (s *GroupService) JoinGroup(ctx context.Context, groupID, userID string) error {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if group.HasMember(userID) {
		return nil
	}

	if err := s.groupRepo.AddMember(ctx, groupID, userID); err != nil {
		s.logger.Error("failed to add member", "groupID", groupID, "userID", userID, "error", err)
		return err
	}

	s.logger.Info("user joined group", "groupID", groupID, "userID", userID)
	return nil
}

// LeaveGroup removes userID from the group. The owner must transfer
// ownership first.
func (s *GroupService) LeaveGroup(ctx context.Context, groupID, userID string) error {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if !group.HasMember(userID) {
		return nil
	}
	if group.OwnerID == userID {
		return ErrOwnerCannotLeave
	}

	if err := s.groupRepo.RemoveMember(ctx, groupID, userID); err != nil {
		s.logger.Error("failed to remove member", "groupID", groupID, "userID", userID, "error", err)
		return err
	}

	s.logger.Info("user left group", "groupID", groupID, "userID", userID)
	return nil
}

// TransferOwnership hands the group to newOwnerID, who must already be
// a member.
func (s *GroupService) TransferOwnership(ctx context.Context, groupID, ownerID, newOwnerID string) error {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if group.OwnerID != ownerID {
		return ErrNotGroupOwner
	}
	if !group.HasMember(newOwnerID) {
		return ErrNotGroupMember
	}

	if err := s.groupRepo.SetOwner(ctx, groupID, newOwnerID); err != nil {
		s.logger.Error("failed to transfer ownership", "groupID", groupID, "newOwnerID", newOwnerID, "error", err)
		return err
	}

	s.logger.Info("group ownership transferred", "groupID", groupID, "from", ownerID, "to", newOwnerID)
	return nil
}

// DeleteGroup removes the group and its message history. Owner only.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, userID string) error {
	group, err := s.groupRepo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if group.OwnerID != userID {
		return ErrNotGroupOwner
	}

	if err := s.messageRepo.DeleteMessagesByGroupID(ctx, groupID); err != nil {
		s.logger.Error("failed to delete group messages", "groupID", groupID, "error", err)
		return err
	}
	if err := s.groupRepo.DeleteGroup(ctx, groupID); err != nil {
		s.logger.Error("failed to delete group", "groupID", groupID, "error", err)
		return err
	}

	s.logger.Info("group deleted", "groupID", groupID, "ownerID", userID)
	return nil
}
