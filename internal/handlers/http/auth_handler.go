package http

import (
	"net/http"
	"strings"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
	credentials ports.CredentialService
	accessTTL   time.Duration
}

func NewAuthHandler(authService services.AuthService, credentials ports.CredentialService, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		credentials: credentials,
		accessTTL:   accessTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.POST("/refresh", h.RefreshToken)
	}
}

type RegisterRequest struct {
	Username string          `json:"username" binding:"required,max=50"`
	Email    string          `json:"email" binding:"required,max=254"`
	Password string          `json:"password" binding:"required,max=128"`
	Role     domain.UserRole `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

type TokenResponse struct {
	UserID       domain.UserID   `json:"user_id"`
	Username     string          `json:"username"`
	Role         domain.UserRole `json:"role"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresIn    int             `json:"expires_in"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Role == "" {
		req.Role = domain.UserRoleViewer
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if !req.Role.Valid() {
		c.Error(errors.NewInvalidInputError("role must be viewer or streamer"))
		return
	}

	user, err := h.credentials.Register(c.Request.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.issueTokens(user, true)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	user, err := h.credentials.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.issueTokens(user, true)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.Error(errors.NewUnauthorizedError("invalid refresh token"))
		return
	}

	user := &domain.User{ID: claims.UserID, Username: claims.Username, Role: claims.Role}
	resp, err := h.issueTokens(user, false)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) issueTokens(user *domain.User, withRefresh bool) (*TokenResponse, error) {
	accessToken, err := h.authService.GenerateToken(user)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError)
	}

	resp := &TokenResponse{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		AccessToken: accessToken,
		ExpiresIn:   int(h.accessTTL / time.Second),
	}
	if withRefresh {
		resp.RefreshToken, err = h.authService.GenerateRefreshToken(user)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "failed to generate refresh token", http.StatusInternalServerError)
		}
	}
	return resp, nil
}
