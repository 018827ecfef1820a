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

// BunEmailTokenRepository persists email verification tokens. Rows are never
// deleted; consumption only flips used to true.
type BunEmailTokenRepository struct {
	db *bun.DB
}

func NewEmailTokenRepository(db *bun.DB) *BunEmailTokenRepository {
	return &BunEmailTokenRepository{db: db}
}

// Create stores a freshly issued verification token.
func (r *BunEmailTokenRepository) Create(ctx context.Context, userID uuid.UUID, token uuid.UUID, expiresAt time.Time) (*EmailToken, error) {
	dbToken := &database.EmailVerificationToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbToken).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to store email token: %w", err)
	}

	return mapDBEmailToken(dbToken), nil
}

// GetUnused looks up an unused token by value. Used tokens are reported as
// not found, indistinguishable from tokens that never existed.
func (r *BunEmailTokenRepository) GetUnused(ctx context.Context, token uuid.UUID) (*EmailToken, error) {
	dbToken := new(database.EmailVerificationToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("token = ?", token).
		Where("used = ?", false).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get email token: %w", err)
	}

	return mapDBEmailToken(dbToken), nil
}

// Consume marks the token used with a compare-and-set on the used flag, so
// that of two concurrent consumers exactly one wins.
func (r *BunEmailTokenRepository) Consume(ctx context.Context, id int64) error {
	result, err := r.db.NewUpdate().
		Model((*database.EmailVerificationToken)(nil)).
		Set("used = ?", true).
		Where("id = ?", id).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume email token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTokenNotFound
	}

	return nil
}

func mapDBEmailToken(dbt *database.EmailVerificationToken) *EmailToken {
	return &EmailToken{
		ID:        dbt.ID,
		UserID:    dbt.UserID,
		Token:     dbt.Token,
		CreatedAt: dbt.CreatedAt,
		ExpiresAt: dbt.ExpiresAt,
		Used:      dbt.Used,
	}
}
