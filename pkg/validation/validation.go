package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxRoomIDLength  = 100
	MaxCommentLength = 1000
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// RoomIDRegex validates caller-provided room ids
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateUsername validates username
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if len(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePassword validates password
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	// bcrypt ignores input past 72 bytes
	if len(password) > 72 {
		return fmt.Errorf("password is too long (max 72 bytes)")
	}
	return nil
}

// ValidateRoomID validates a caller-provided room id.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateCommentText validates comment text after sanitizing.
func ValidateCommentText(text string) error {
	if err := ValidateNonEmptyString(text, "comment text"); err != nil {
		return err
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("comment text is not valid UTF-8")
	}
	return ValidateStringLength(text, 1, MaxCommentLength, "comment text")
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
