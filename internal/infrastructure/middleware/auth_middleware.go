package middleware

import (
	"strings"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	apperrors "roomrelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

func setIdentity(c *gin.Context, claims *services.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUsername, claims.Username)
	c.Set(ContextRole, claims.Role)
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := authService.ValidateToken(token); err == nil {
				setIdentity(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role is not one of
// roles. It must run after AuthMiddleware.
func RequireRole(roles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, exists := c.Get(ContextRole)
		if !exists {
			abortWith(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}
		role, _ := val.(domain.UserRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abortWith(c, apperrors.NewForbiddenError("insufficient permissions"))
	}
}

// IdentityFromContext returns the identity set by the auth middlewares.
func IdentityFromContext(c *gin.Context) (*domain.Identity, bool) {
	val, ok := c.Get(ContextUserID)
	if !ok {
		return nil, false
	}
	userID, _ := val.(domain.UserID)
	id := &domain.Identity{UserID: userID, Username: c.GetString(ContextUsername)}
	if role, ok := c.Get(ContextRole); ok {
		id.Role, _ = role.(domain.UserRole)
	}
	return id, true
}
