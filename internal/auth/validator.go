package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/staffdesk/staffdesk/internal/user"
)

var (
	ErrUnauthenticated = errors.New("authentication failed")
	// ErrStaleToken rejects tokens that predate the account's last password
	// change, which logs the holder out of every session issued before it.
	ErrStaleToken = errors.New("token was issued before the last password change, please login again")
)

// Validator decides whether a verified token is still honored for an account.
// Comparing the token's issue time against a single stored timestamp replaces
// a per-token revocation list.
type Validator struct {
	users UserRepository
}

func NewValidator(users UserRepository) *Validator {
	return &Validator{users: users}
}

// Validate resolves the token's subject and checks the token's recency against
// the account's last password change. Tokens without an iat claim and accounts
// without a credential profile are accepted: in both cases recency simply
// cannot be checked, and absence is not punished.
func (v *Validator) Validate(ctx context.Context, claims *TokenClaims) (*user.User, error) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	u, err := v.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	if claims.IssuedAt.IsZero() {
		return u, nil
	}

	if u.Profile == nil {
		return u, nil
	}

	// Granularity is to the second; a token issued in the same instant as a
	// password change is accepted as tolerable slack.
	if claims.IssuedAt.Before(u.Profile.PasswordChangedAt) {
		return nil, ErrStaleToken
	}

	return u, nil
}
