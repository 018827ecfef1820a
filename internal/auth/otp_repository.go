package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/staffdesk/staffdesk/internal/database"
)

// BunResetOTPRepository persists password reset OTPs. Issuing a new OTP never
// invalidates earlier ones; rows are retained after use for audit.
type BunResetOTPRepository struct {
	db *bun.DB
}

func NewResetOTPRepository(db *bun.DB) *BunResetOTPRepository {
	return &BunResetOTPRepository{db: db}
}

// Create stores a freshly issued OTP.
func (r *BunResetOTPRepository) Create(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) (*ResetOTP, error) {
	dbOTP := &database.PasswordResetOTP{
		UserID:    userID,
		Code:      code,
		ExpiresAt: expiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbOTP).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to store reset OTP: %w", err)
	}

	return mapDBResetOTP(dbOTP), nil
}

// LatestUnused returns the most recently created unused OTP of the account
// matching the submitted code. Latest-wins resolves code collisions within
// an account.
func (r *BunResetOTPRepository) LatestUnused(ctx context.Context, userID uuid.UUID, code string) (*ResetOTP, error) {
	dbOTP := new(database.PasswordResetOTP)
	err := r.db.NewSelect().
		Model(dbOTP).
		Where("user_id = ?", userID).
		Where("otp = ?", code).
		Where("used = ?", false).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to get reset OTP: %w", err)
	}

	return mapDBResetOTP(dbOTP), nil
}

// Consume marks the OTP used with a compare-and-set on the used flag. Two
// concurrent submissions of the same valid code race here and exactly one
// update succeeds.
func (r *BunResetOTPRepository) Consume(ctx context.Context, id int64) error {
	result, err := r.db.NewUpdate().
		Model((*database.PasswordResetOTP)(nil)).
		Set("used = ?", true).
		Where("id = ?", id).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume reset OTP: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOTPNotFound
	}

	return nil
}

func mapDBResetOTP(dbo *database.PasswordResetOTP) *ResetOTP {
	return &ResetOTP{
		ID:        dbo.ID,
		UserID:    dbo.UserID,
		Code:      dbo.Code,
		CreatedAt: dbo.CreatedAt,
		ExpiresAt: dbo.ExpiresAt,
		Used:      dbo.Used,
	}
}
