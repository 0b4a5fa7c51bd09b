// Package client talks to a roomrelay server: the REST API over HTTP and
// the relay protocol over a websocket session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"roomrelay/internal/core/domain"
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
}

type TokenResponse struct {
	UserID       domain.UserID   `json:"user_id"`
	Username     string          `json:"username"`
	Role         domain.UserRole `json:"role"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresIn    int             `json:"expires_in"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken sets the bearer token used for REST calls and websocket dials.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Register(ctx context.Context, username, email, password string, role domain.UserRole) (*TokenResponse, error) {
	body := map[string]string{
		"username": username,
		"email":    email,
		"password": password,
		"role":     string(role),
	}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return &resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return &resp, nil
}

// CreateRoom pre-creates a room. An empty id lets the server pick one.
func (c *Client) CreateRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomSummary, error) {
	var resp struct {
		Room domain.RoomSummary `json:"room"`
	}
	body := map[string]string{}
	if roomID != "" {
		body["room_id"] = string(roomID)
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	var resp struct {
		Rooms []domain.RoomSummary `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) Comments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	var resp struct {
		Comments []domain.Comment `json:"comments"`
	}
	path := "/api/v1/rooms/" + url.PathEscape(string(roomID)) + "/comments"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Comments, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
