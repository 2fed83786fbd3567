package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"securechat/app/config"

	_ "github.com/lib/pq"
)

type RepositoryAdapter struct {
	User    *UserRepository
	Group   *GroupRepository
	Message *MessageRepository

	db *sql.DB
}

func NewRepositoryAdapter(cfg config.DatabaseConfig, cfgConn config.DatabaseConnectionsConfig, logger *slog.Logger) (*RepositoryAdapter, error) {
	connection := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfgConn.MaxOpen)
	db.SetMaxIdleConns(cfgConn.MaxIdle)
	db.SetConnMaxLifetime(cfgConn.MaxLifetime)
	db.SetConnMaxIdleTime(cfgConn.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	userRepo, err := NewUserRepository(db, logger)
	if err != nil {
		return nil, err
	}
	groupRepo, err := NewGroupRepository(db, logger)
	if err != nil {
		return nil, err
	}
	messageRepo, err := NewMessageRepository(db, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("repository adapter initialized", "host", cfg.Host, "dbname", cfg.DBName)

	return &RepositoryAdapter{User: userRepo, Group: groupRepo, Message: messageRepo, db: db}, nil
}

func (r *RepositoryAdapter) Close(logger *slog.Logger) error {
	if err := r.db.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
		return err
	}
	return nil
}

func (r *RepositoryAdapter) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
