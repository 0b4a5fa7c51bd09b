package domain

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrNoActiveStream     = errors.New("room has no active stream")
	ErrRoomExists         = errors.New("room already exists")
	ErrNotInRoom          = errors.New("connection is not bound to a room")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	ErrAlreadyBound       = errors.New("connection is already bound to a room")
	ErrPersistenceFailure = errors.New("comment persistence failed")
)
