package auth

import (
	"time"

	"github.com/google/uuid"
)

// EmailToken is a single-use email verification token with a 24h window.
type EmailToken struct {
	ID        int64
	UserID    uuid.UUID
	Token     uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// ResetOTP is a single-use 6-digit password reset code with a 15min window.
type ResetOTP struct {
	ID        int64
	UserID    uuid.UUID
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

func (t *EmailToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

func (o *ResetOTP) Expired(now time.Time) bool {
	return o.ExpiresAt.Before(now)
}
