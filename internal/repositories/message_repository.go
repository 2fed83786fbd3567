package repositories

import (
	"context"
	"database/sql"
	"log/slog"

	"securechat/internal/models"

	"github.com/lib/pq"

	_ "embed"
)

//go:embed migrations/004_create_messages_table_up.sql
var createMessagesTableQuery string

//go:embed migrations/005_create_message_reads_table_up.sql
var createMessageReadsTableQuery string

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB, logger *slog.Logger) (*MessageRepository, error) {
	var repo = MessageRepository{db: db}
	if _, err := repo.db.Exec(createMessagesTableQuery); err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	if _, err := repo.db.Exec(createMessageReadsTableQuery); err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	return &repo, nil
}

func (r *MessageRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, group_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		message.ID, message.GroupID, message.SenderID, message.Content, message.CreatedAt)
	if err != nil {
		return err
	}

	for _, reader := range message.ReadBy {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)",
			message.ID, reader)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const messageWithReadersQuery = `
	SELECT m.id, m.group_id, m.sender_id, u.email, m.content, m.created_at,
	       array_remove(array_agg(mr.user_id), NULL)
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN message_reads mr ON mr.message_id = m.id`

func (r *MessageRepository) GetGroupMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	query := messageWithReadersQuery + `
	WHERE m.group_id = $1
	GROUP BY m.id, u.email
	ORDER BY m.created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) GetMessageByID(ctx context.Context, messageID string) (*models.Message, error) {
	query := messageWithReadersQuery + `
	WHERE m.id = $1
	GROUP BY m.id, u.email`

	row := r.db.QueryRowContext(ctx, query, messageID)

	var message models.Message
	var readBy pq.StringArray
	err := row.Scan(&message.ID, &message.GroupID, &message.SenderID, &message.SenderName,
		&message.Content, &message.CreatedAt, &readBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	message.ReadBy = readBy

	return &message, nil
}

// GetRecentMessages returns up to limit newest messages of a group,
// oldest first.
func (r *MessageRepository) GetRecentMessages(ctx context.Context, groupID string, limit int) ([]models.Message, error) {
	query := `
	SELECT id, group_id, sender_id, email, content, created_at, read_by FROM (` +
		messageWithReadersQuery + `
	WHERE m.group_id = $1
	GROUP BY m.id, u.email
	ORDER BY m.created_at DESC
	LIMIT $2) sub (id, group_id, sender_id, email, content, created_at, read_by)
	ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) AddReader(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		messageID, userID)
	return err
}

func (r *MessageRepository) DeleteMessagesByGroupID(ctx context.Context, groupID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE group_id = $1", groupID)
	return err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var message models.Message
		var readBy pq.StringArray
		err := rows.Scan(&message.ID, &message.GroupID, &message.SenderID, &message.SenderName,
			&message.Content, &message.CreatedAt, &readBy)
		if err != nil {
			return nil, err
		}
		message.ReadBy = readBy
		messages = append(messages, message)
	}
	return messages, rows.Err()
}
