package memory

import (
	"context"
	"strings"
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
)

type MemoryUserRepository struct {
	users   map[domain.UserID]*domain.User
	byEmail map[string]domain.UserID
	mu      sync.RWMutex
}

func NewMemoryUserRepository() ports.UserRepository {
	return &MemoryUserRepository{
		users:   make(map[domain.UserID]*domain.User),
		byEmail: make(map[string]domain.UserID),
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := r.byEmail[email]; exists {
		return domain.ErrUserExists
	}
	if _, exists := r.users[user.ID]; exists {
		return domain.ErrUserExists
	}

	stored := *user
	r.users[user.ID] = &stored
	r.byEmail[email] = user.ID
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[strings.ToLower(email)]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	out := *r.users[id]
	return &out, nil
}
