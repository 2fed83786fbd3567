package repositories

import (
	"context"
	"database/sql"
	"log/slog"

	"securechat/internal/models"

	_ "embed"
)

//go:embed migrations/002_create_groups_table_up.sql
var createGroupsTableQuery string

//go:embed migrations/003_create_group_members_table_up.sql
var createGroupMembersTableQuery string

type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository(db *sql.DB, logger *slog.Logger) (*GroupRepository, error) {
	var repo = GroupRepository{db: db}
	if _, err := repo.db.Exec(createGroupsTableQuery); err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	if _, err := repo.db.Exec(createGroupMembersTableQuery); err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	return &repo, nil
}

func (r *GroupRepository) CreateGroup(ctx context.Context, group *models.Group) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO groups (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)",
		group.ID, group.Name, group.OwnerID, group.CreatedAt)
	if err != nil {
		return err
	}

	for _, member := range group.Members {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)",
			group.ID, member)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *GroupRepository) GetGroupByID(ctx context.Context, groupID string) (*models.Group, error) {
	var group models.Group

	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, created_at FROM groups WHERE id = $1", groupID)
	err := row.Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = $1", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		group.Members = append(group.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &group, nil
}

func (r *GroupRepository) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	query := `
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		groupID, userID)
	return err
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID)
	return err
}

func (r *GroupRepository) SetOwner(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE groups SET owner_id = $2 WHERE id = $1", groupID, userID)
	return err
}

func (r *GroupRepository) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = $1", groupID)
	return err
}
