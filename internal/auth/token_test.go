package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T, key string) *PasetoService {
	t.Helper()
	s, err := NewPasetoService([]byte(key))
	require.NoError(t, err)
	return s
}

func TestNewPasetoService_KeyLength(t *testing.T) {
	t.Parallel()

	_, err := NewPasetoService([]byte("too-short"))
	assert.Error(t, err)

	_, err = NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	assert.NoError(t, err)
}

func TestPasetoService_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTokenService(t, "0123456789abcdef0123456789abcdef")

	userID := uuid.New()
	before := time.Now()

	tokenStr, err := s.CreateToken(userID, "alice", 15*time.Minute)
	require.NoError(t, err)

	claims, err := s.VerifyToken(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	require.False(t, claims.IssuedAt.IsZero())
	assert.WithinDuration(t, before, claims.IssuedAt, 5*time.Second)
	assert.WithinDuration(t, before.Add(15*time.Minute), claims.ExpiresAt, 5*time.Second)
}

func TestPasetoService_WrongKey(t *testing.T) {
	t.Parallel()
	issuer := newTokenService(t, "0123456789abcdef0123456789abcdef")
	other := newTokenService(t, "fedcba9876543210fedcba9876543210")

	tokenStr, err := issuer.CreateToken(uuid.New(), "alice", 15*time.Minute)
	require.NoError(t, err)

	_, err = other.VerifyToken(tokenStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasetoService_Expired(t *testing.T) {
	t.Parallel()
	s := newTokenService(t, "0123456789abcdef0123456789abcdef")

	tokenStr, err := s.CreateToken(uuid.New(), "alice", -time.Minute)
	require.NoError(t, err)

	_, err = s.VerifyToken(tokenStr)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPasetoService_Garbage(t *testing.T) {
	t.Parallel()
	s := newTokenService(t, "0123456789abcdef0123456789abcdef")

	_, err := s.VerifyToken("v4.local.not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
