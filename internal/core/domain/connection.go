package domain

import "time"

// ConnID identifies one accepted connection for the lifetime of the process.
type ConnID string

type Role string

const (
	RoleUnbound  Role = ""
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

// ParseRole maps a wire role to a Role. Anything that is not "streamer"
// is a viewer, which is the default for join requests.
func ParseRole(s string) Role {
	if Role(s) == RoleStreamer {
		return RoleStreamer
	}
	return RoleViewer
}

// Membership is the binding of a connection to a room.
type Membership struct {
	ConnID   ConnID
	RoomID   RoomID
	Role     Role
	JoinedAt time.Time
}

// Identity is the optional authenticated principal behind a connection.
type Identity struct {
	UserID   UserID
	Username string
	Role     UserRole
}
