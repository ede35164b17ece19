package models

import "time"

// DefaultImageFile is the avatar every account starts with.
const DefaultImageFile = "default.jpg"

// User represents a registered account
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Not serialized
	ImageFile    string    `json:"image_file"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
