package repositories

import (
	"context"
	"database/sql"
	"log/slog"

	"securechat/internal/models"

	_ "embed"
)

//go:embed migrations/001_create_users_table_up.sql
var createUsersTableQuery string

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB, logger *slog.Logger) (*UserRepository, error) {
	var repo = UserRepository{db: db}
	var _, err = repo.db.Exec(createUsersTableQuery)
	if err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	return &repo, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)",
		user.ID, user.Email, user.Password)
	return err
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User

	row := r.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash FROM users WHERE email = $1", email)
	err := row.Scan(&user.ID, &user.Email, &user.Password)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	row := r.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash FROM users WHERE id = $1", id)
	err := row.Scan(&user.ID, &user.Email, &user.Password)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}
