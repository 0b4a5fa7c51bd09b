package domain

import "time"

type UserID string

type User struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserRole string

const (
	UserRoleViewer   UserRole = "viewer"
	UserRoleStreamer UserRole = "streamer"
)

func (r UserRole) Valid() bool {
	return r == UserRoleViewer || r == UserRoleStreamer
}

// CanStream reports whether the role may bind as a room's streamer.
func (r UserRole) CanStream() bool {
	return r == UserRoleStreamer
}
