package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose password hash in JSON
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Profile is nil when the account has no credential profile row.
	// Absence is tolerated by the token validator.
	Profile *CredentialProfile `json:"-"`
}

type CredentialProfile struct {
	PasswordChangedAt time.Time
	EmailVerified     bool
}
