package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"
)

type credentialService struct {
	users  ports.UserRepository
	cost   int
	logger *zap.SugaredLogger
}

// NewCredentialService returns the register/authenticate collaborator
// backed by users. cost <= 0 selects bcrypt.DefaultCost.
func NewCredentialService(users ports.UserRepository, cost int, logger *zap.SugaredLogger) ports.CredentialService {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &credentialService{users: users, cost: cost, logger: logger}
}

func (s *credentialService) Register(ctx context.Context, username, email, password string, role domain.UserRole) (*domain.User, error) {
	if role == "" {
		role = domain.UserRoleViewer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           domain.UserID(uuid.NewString()),
		Username:     utils.NormalizeUsername(username),
		Email:        utils.NormalizeEmail(email),
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Infow("user registered", "user_id", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

func (s *credentialService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}
