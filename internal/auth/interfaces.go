package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/staffdesk/staffdesk/internal/user"
)

// UserRepository is the slice of account storage the credential core needs.
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByUsername(ctx context.Context, username string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// EmailTokenRepository stores email verification tokens.
type EmailTokenRepository interface {
	Create(ctx context.Context, userID uuid.UUID, token uuid.UUID, expiresAt time.Time) (*EmailToken, error)
	GetUnused(ctx context.Context, token uuid.UUID) (*EmailToken, error)
	Consume(ctx context.Context, id int64) error
}

// ResetOTPRepository stores password reset OTPs.
type ResetOTPRepository interface {
	Create(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) (*ResetOTP, error)
	LatestUnused(ctx context.Context, userID uuid.UUID, code string) (*ResetOTP, error)
	Consume(ctx context.Context, id int64) error
}

// EmailService is the outbound mail collaborator. Sends are best-effort;
// callers never surface a send failure to the client.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, username string, token uuid.UUID) error
	SendResetOTP(ctx context.Context, toEmail, username, code string) error
}
