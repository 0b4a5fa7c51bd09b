package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"github.com/mattn/go-sqlite3"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) ports.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := "INSERT INTO users (id, username, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)"
	_, err := r.db.ExecContext(ctx, query,
		string(user.ID), user.Username, strings.ToLower(user.Email), user.PasswordHash, string(user.Role), user.CreatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to insert user %s: %w", user.Username, err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return r.getOne(ctx, "SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = ?", string(id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT id, username, email, password_hash, role, created_at FROM users WHERE email = ?", strings.ToLower(email))
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	var (
		u        domain.User
		id, role string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&id, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.ID = domain.UserID(id)
	u.Role = domain.UserRole(role)
	return &u, nil
}
