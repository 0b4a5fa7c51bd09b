package domain

import "time"

type RoomEventType string

const (
	EventRoomCreated   RoomEventType = "room.created"
	EventRoomClosed    RoomEventType = "room.closed"
	EventCommentPosted RoomEventType = "comment.posted"
)

// RoomEvent describes a room lifecycle change for other relay instances.
type RoomEvent struct {
	Type       RoomEventType `json:"type"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	RoomID     RoomID        `json:"room_id"`
	ConnID     ConnID        `json:"conn_id,omitempty"`
	Comment    *Comment      `json:"comment,omitempty"`
}
