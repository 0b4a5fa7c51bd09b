package services

import (
	"context"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/infrastructure/repositories/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	svc := NewAuthService("secret", time.Minute, time.Hour)
	user := &domain.User{ID: "u1", Username: "alice", Role: domain.UserRoleStreamer}

	access, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), claims.UserID)
	assert.Equal(t, domain.UserRoleStreamer, claims.Identity().Role)

	t.Run("refresh token is not an access token", func(t *testing.T) {
		refresh, err := svc.GenerateRefreshToken(user)
		require.NoError(t, err)

		_, err = svc.ValidateToken(refresh)
		assert.ErrorIs(t, err, ErrInvalidToken)

		claims, err := svc.ValidateRefreshToken(refresh)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthService("other", time.Minute, time.Hour)
		_, err := other.ValidateToken(access)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1", TokenType: tokenTypeAccess})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAuthService_Expired(t *testing.T) {
	svc := NewAuthService("secret", time.Minute, time.Hour).(*authService)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateToken(&domain.User{ID: "u1"})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestCredentialService(t *testing.T) {
	ctx := context.Background()
	svc := NewCredentialService(memory.NewMemoryUserRepository(), bcrypt.MinCost, zap.NewNop().Sugar())

	user, err := svc.Register(ctx, " alice ", "Alice@Example.com", "hunter22", domain.UserRoleStreamer)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "hunter22", user.PasswordHash)
	assert.NotEmpty(t, user.ID)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, "alice2", "alice@example.com", "hunter22", domain.UserRoleViewer)
		assert.ErrorIs(t, err, domain.ErrUserExists)
	})

	t.Run("default role is viewer", func(t *testing.T) {
		u, err := svc.Register(ctx, "bob", "bob@example.com", "hunter22", "")
		require.NoError(t, err)
		assert.Equal(t, domain.UserRoleViewer, u.Role)
	})

	t.Run("invalid role", func(t *testing.T) {
		_, err := svc.Register(ctx, "eve", "eve@example.com", "hunter22", "admin")
		assert.Error(t, err)
	})

	t.Run("authenticate", func(t *testing.T) {
		got, err := svc.Authenticate(ctx, "ALICE@example.com", "hunter22")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		_, err = svc.Authenticate(ctx, "alice@example.com", "wrong")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

		_, err = svc.Authenticate(ctx, "nobody@example.com", "hunter22")
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	})
}
