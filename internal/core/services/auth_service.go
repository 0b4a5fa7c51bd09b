package services

import (
	"errors"
	"time"

	"roomrelay/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type AuthService interface {
	GenerateToken(user *domain.User) (string, error)
	GenerateRefreshToken(user *domain.User) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

type Claims struct {
	UserID    domain.UserID   `json:"user_id"`
	Username  string          `json:"username"`
	Role      domain.UserRole `json:"role"`
	TokenType string          `json:"token_type"`
	jwt.RegisteredClaims
}

// Identity converts validated claims into the principal attached to a
// connection.
func (c *Claims) Identity() *domain.Identity {
	return &domain.Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Role:     c.Role,
	}
}

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL, refreshTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		now:             time.Now,
	}
}

func (s *authService) GenerateToken(user *domain.User) (string, error) {
	return s.sign(user, tokenTypeAccess, s.accessTokenTTL)
}

func (s *authService) GenerateRefreshToken(user *domain.User) (string, error) {
	return s.sign(user, tokenTypeRefresh, s.refreshTokenTTL)
}

func (s *authService) sign(user *domain.User, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken accepts access tokens only.
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeAccess)
}

func (s *authService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeRefresh)
}

func (s *authService) validate(tokenString, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
