package ports

import (
	"context"

	"roomrelay/internal/core/domain"
)

type CredentialService interface {
	Register(ctx context.Context, username, email, password string, role domain.UserRole) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
}
