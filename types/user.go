package types

import "time"

// User represents an account in the system.
// It contains identity, profile assets, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user, assigned at creation.
	ID string `json:"id" db:"id"`

	// Username is the unique login name chosen by the user, stored lowercase.
	Username string `json:"username" db:"username"`

	// Email is the user's email address, unique and stored lowercase.
	Email string `json:"email" db:"email"`

	// FullName is the user's display name.
	FullName string `json:"fullname" db:"full_name"`

	// AvatarURL is the hosted URL of the user's avatar image. Required.
	AvatarURL string `json:"avatar" db:"avatar_url"`

	// CoverImageURL is the hosted URL of the user's cover image. Optional.
	CoverImageURL string `json:"coverimage,omitempty" db:"cover_image_url"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the single currently valid refresh token for the user,
	// or empty when no session is active. Never exposed in API responses.
	RefreshToken string `json:"-" db:"refresh_token"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Sanitized returns a copy of the user with secret fields cleared so it can
// safely cross the trust boundary.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.RefreshToken = ""
	return u
}
