package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account row. Accounts start inactive and become active when the
// email address is verified.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Username     string    `bun:"username,notnull,unique"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Active       bool      `bun:"active,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	Profile *CredentialProfile `bun:"rel:has-one,join:id=user_id"`
}

// CredentialProfile holds per-account credential metadata. password_changed_at
// is advanced exactly on profile creation, OTP reset and authenticated password
// change; it is monotonically non-decreasing and is never touched by email
// verification.
type CredentialProfile struct {
	bun.BaseModel `bun:"table:credential_profiles,alias:cp"`

	ID                int64     `bun:"id,pk,autoincrement"`
	UserID            uuid.UUID `bun:"user_id,notnull,unique,type:uuid"`
	PasswordChangedAt time.Time `bun:"password_changed_at,nullzero,notnull,default:current_timestamp"`
	EmailVerified     bool      `bun:"email_verified,notnull,default:false"`
}

// EmailVerificationToken is a single-use 128-bit verification token. Rows are
// never deleted; the only mutation ever applied is used=true.
type EmailVerificationToken struct {
	bun.BaseModel `bun:"table:email_verification_tokens,alias:evt"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Token     uuid.UUID `bun:"token,notnull,unique,type:uuid"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	Used      bool      `bun:"used,notnull,default:false"`
}

// PasswordResetOTP is a single-use 6-digit reset code. Multiple unused codes
// may coexist per account; codes are not globally unique. Rows are retained
// after use for audit.
type PasswordResetOTP struct {
	bun.BaseModel `bun:"table:password_reset_otps,alias:pro"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Code      string    `bun:"otp,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	Used      bool      `bun:"used,notnull,default:false"`
}

type Employee struct {
	bun.BaseModel `bun:"table:employees,alias:e"`

	ID         int64  `bun:"id,pk,autoincrement"`
	Name       string `bun:"name,notnull"`
	Email      string `bun:"email,notnull,unique"`
	Department string `bun:"department,notnull"`
	Position   string `bun:"position,notnull"`

	Tasks []*Task `bun:"rel:has-many,join:id=assigned_to_id"`
}

type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Title        string    `bun:"title,notnull"`
	Description  string    `bun:"description,notnull"`
	AssignedToID int64     `bun:"assigned_to_id,notnull"`
	Status       string    `bun:"status,notnull,default:'Pending'"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	AssignedTo *Employee `bun:"rel:belongs-to,join:assigned_to_id=id"`
}
