package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/staffdesk/staffdesk/internal/database"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("username or email already exists")
)

// Repository handles account and credential profile persistence.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new inactive account together with its credential profile
// in a single transaction. password_changed_at starts at the creation time.
func (r *Repository) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	dbUser := &database.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Active:       false,
	}

	now := time.Now()

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(dbUser).
			Returning("*").
			Exec(ctx); err != nil {
			return err
		}

		profile := &database.CredentialProfile{
			UserID:            dbUser.ID,
			PasswordChangedAt: now,
			EmailVerified:     false,
		}
		_, err := tx.NewInsert().
			Model(profile).
			Exec(ctx)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	u := mapDBUserToModel(dbUser)
	u.Profile = &CredentialProfile{PasswordChangedAt: now}
	return u, nil
}

// GetByEmail retrieves a user by email, including its credential profile.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, "u.email = ?", email)
}

// GetByUsername retrieves a user by username, including its credential profile.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getOne(ctx, "u.username = ?", username)
}

// GetByID retrieves a user by ID, including its credential profile.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, "u.id = ?", id)
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Relation("Profile").
		Where(where, arg).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// MarkEmailVerified activates the account and flags the profile as verified in
// one transaction. password_changed_at is deliberately left alone.
func (r *Repository) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*database.User)(nil)).
			Set("active = ?", true).
			Set("updated_at = NOW()").
			Where("id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		// The profile row may be absent; that is not an error.
		_, err = tx.NewUpdate().
			Model((*database.CredentialProfile)(nil)).
			Set("email_verified = ?", true).
			Where("user_id = ?", userID).
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	return nil
}

// UpdatePassword stores a new password hash and advances password_changed_at
// to now in the same transaction, so no reader can observe one without the
// other. Advancing the timestamp retroactively invalidates every bearer token
// issued before this moment.
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*database.User)(nil)).
			Set("password_hash = ?", passwordHash).
			Set("updated_at = NOW()").
			Where("id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		_, err = tx.NewUpdate().
			Model((*database.CredentialProfile)(nil)).
			Set("password_changed_at = NOW()").
			Where("user_id = ?", userID).
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	u := &User{
		ID:           dbu.ID,
		Username:     dbu.Username,
		Email:        dbu.Email,
		PasswordHash: dbu.PasswordHash,
		Active:       dbu.Active,
		CreatedAt:    dbu.CreatedAt,
		UpdatedAt:    dbu.UpdatedAt,
	}
	if dbu.Profile != nil {
		u.Profile = &CredentialProfile{
			PasswordChangedAt: dbu.Profile.PasswordChangedAt,
			EmailVerified:     dbu.Profile.EmailVerified,
		}
	}
	return u
}
