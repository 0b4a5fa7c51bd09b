package redis

import "roomrelay/internal/core/domain"

const keyPrefix = "roomrelay:"

func commentsKey(roomID domain.RoomID) string {
	return keyPrefix + "comments:" + string(roomID)
}

// commentRoomsKey is the set of room ids that have at least one stored
// comment.
func commentRoomsKey() string {
	return keyPrefix + "comments:rooms"
}

func userKey(id domain.UserID) string {
	return keyPrefix + "user:" + string(id)
}

func userEmailKey(email string) string {
	return keyPrefix + "user:email:" + email
}
