package domain

import "time"

type RoomID string

type RoomState string

const (
	RoomForming RoomState = "forming"
	RoomLive    RoomState = "live"
	RoomClosed  RoomState = "closed"
)

// Comment is one entry of a room's append-only comment log.
type Comment struct {
	ID         string    `json:"id"`
	RoomID     RoomID    `json:"-"`
	Author     ConnID    `json:"author"`
	AuthorName string    `json:"authorName,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomSummary is a point-in-time view of a room for read APIs.
type RoomSummary struct {
	ID           RoomID    `json:"id"`
	State        RoomState `json:"state"`
	HasStreamer  bool      `json:"has_streamer"`
	ViewerCount  int       `json:"viewer_count"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}
