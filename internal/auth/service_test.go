package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staffdesk/staffdesk/internal/logging"
	"github.com/staffdesk/staffdesk/internal/user"
)

// --- fakes ---

// fakeUserRepo stores accounts in memory. password_changed_at is truncated to
// the second to mirror the granularity of issued-at claims.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
	now   func() time.Time
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users: make(map[uuid.UUID]*user.User),
		now:   time.Now,
	}
}

func (f *fakeUserRepo) Create(ctx context.Context, username, email, passwordHash string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email || u.Username == username {
			return nil, user.ErrDuplicate
		}
	}

	u := &user.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Active:       false,
		Profile: &user.CredentialProfile{
			PasswordChangedAt: f.now().Truncate(time.Second),
		},
	}
	f.users[u.ID] = u
	return copyUser(u), nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, user.ErrNotFound
}

func (f *fakeUserRepo) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Active = true
	if u.Profile != nil {
		u.Profile.EmailVerified = true
	}
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = passwordHash
	if u.Profile != nil {
		u.Profile.PasswordChangedAt = f.now().Truncate(time.Second)
	}
	return nil
}

func copyUser(u *user.User) *user.User {
	c := *u
	if u.Profile != nil {
		p := *u.Profile
		c.Profile = &p
	}
	return &c
}

type fakeEmailTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens map[int64]*EmailToken
}

func newFakeEmailTokenRepo() *fakeEmailTokenRepo {
	return &fakeEmailTokenRepo{tokens: make(map[int64]*EmailToken)}
}

func (f *fakeEmailTokenRepo) Create(ctx context.Context, userID uuid.UUID, token uuid.UUID, expiresAt time.Time) (*EmailToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	et := &EmailToken{
		ID:        f.nextID,
		UserID:    userID,
		Token:     token,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	f.tokens[et.ID] = et
	cp := *et
	return &cp, nil
}

func (f *fakeEmailTokenRepo) GetUnused(ctx context.Context, token uuid.UUID) (*EmailToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, et := range f.tokens {
		if et.Token == token && !et.Used {
			cp := *et
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (f *fakeEmailTokenRepo) Consume(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	et, ok := f.tokens[id]
	if !ok || et.Used {
		return ErrTokenNotFound
	}
	et.Used = true
	return nil
}

type fakeResetOTPRepo struct {
	mu     sync.Mutex
	nextID int64
	otps   map[int64]*ResetOTP
}

func newFakeResetOTPRepo() *fakeResetOTPRepo {
	return &fakeResetOTPRepo{otps: make(map[int64]*ResetOTP)}
}

func (f *fakeResetOTPRepo) Create(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) (*ResetOTP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	otp := &ResetOTP{
		ID:        f.nextID,
		UserID:    userID,
		Code:      code,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	f.otps[otp.ID] = otp
	cp := *otp
	return &cp, nil
}

func (f *fakeResetOTPRepo) LatestUnused(ctx context.Context, userID uuid.UUID, code string) (*ResetOTP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *ResetOTP
	for _, otp := range f.otps {
		if otp.UserID != userID || otp.Code != code || otp.Used {
			continue
		}
		if latest == nil || otp.CreatedAt.After(latest.CreatedAt) {
			latest = otp
		}
	}
	if latest == nil {
		return nil, ErrOTPNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeResetOTPRepo) Consume(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	otp, ok := f.otps[id]
	if !ok || otp.Used {
		return ErrOTPNotFound
	}
	otp.Used = true
	return nil
}

type fakeEmailService struct {
	mu            sync.Mutex
	verifications []string
	otps          []string
	sent          chan struct{}
}

func newFakeEmailService() *fakeEmailService {
	return &fakeEmailService{sent: make(chan struct{}, 16)}
}

func (f *fakeEmailService) SendVerificationEmail(ctx context.Context, toEmail, username string, token uuid.UUID) error {
	f.mu.Lock()
	f.verifications = append(f.verifications, toEmail)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func (f *fakeEmailService) SendResetOTP(ctx context.Context, toEmail, username, code string) error {
	f.mu.Lock()
	f.otps = append(f.otps, code)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func (f *fakeEmailService) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-f.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for email send")
	}
}

type testEnv struct {
	users       *fakeUserRepo
	emailTokens *fakeEmailTokenRepo
	resetOTPs   *fakeResetOTPRepo
	emails      *fakeEmailService
	tokens      *PasetoService
	service     *Service
	validator   *Validator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	env := &testEnv{
		users:       newFakeUserRepo(),
		emailTokens: newFakeEmailTokenRepo(),
		resetOTPs:   newFakeResetOTPRepo(),
		emails:      newFakeEmailService(),
		tokens:      tokens,
	}
	env.service = NewService(
		env.users,
		env.emailTokens,
		env.resetOTPs,
		tokens,
		env.emails,
		logging.NewLogger(true),
		15*time.Minute,
		24*time.Hour,
		15*time.Minute,
	)
	env.validator = NewValidator(env.users)
	return env
}

func (env *testEnv) register(t *testing.T, username, email, password string) *user.User {
	t.Helper()
	u, err := env.service.Register(context.Background(), username, email, password)
	require.NoError(t, err)
	env.emails.waitForSend(t)
	return u
}

func (env *testEnv) issuedEmailToken(t *testing.T, userID uuid.UUID) uuid.UUID {
	t.Helper()
	env.emailTokens.mu.Lock()
	defer env.emailTokens.mu.Unlock()
	for _, et := range env.emailTokens.tokens {
		if et.UserID == userID && !et.Used {
			return et.Token
		}
	}
	t.Fatal("no unused email token issued for user")
	return uuid.Nil
}

// --- tests ---

func TestRegister_CreatesInactiveAccountAndIssuesToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	u := env.register(t, "alice", "a@x.com", "password1")

	assert.False(t, u.Active)
	require.NotNil(t, u.Profile)
	assert.False(t, u.Profile.EmailVerified)
	assert.False(t, u.Profile.PasswordChangedAt.IsZero())

	token := env.issuedEmailToken(t, u.ID)
	assert.NotEqual(t, uuid.Nil, token)
	assert.Equal(t, []string{"a@x.com"}, env.emails.verifications)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{"missing username", "", "a@x.com", "password1", ErrUsernameRequired},
		{"missing email", "alice", "", "password1", ErrEmailRequired},
		{"bad email", "alice", "not-an-email", "password1", ErrInvalidEmailFormat},
		{"missing password", "alice", "a@x.com", "", ErrPasswordRequired},
		{"short password", "alice", "a@x.com", "short", ErrPasswordTooShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.Register(ctx, tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.register(t, "alice", "a@x.com", "password1")

	_, err := env.service.Register(context.Background(), "alice2", "a@x.com", "password1")
	assert.ErrorIs(t, err, user.ErrDuplicate)
}

func TestVerifyEmail_ActivatesAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")
	token := env.issuedEmailToken(t, u.ID)

	verified, err := env.service.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.Active)

	stored, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.True(t, stored.Profile.EmailVerified)
	// Verification must not advance the password-change timestamp.
	assert.Equal(t, u.Profile.PasswordChangedAt, stored.Profile.PasswordChangedAt)
}

func TestVerifyEmail_SecondConsumptionFailsButStatePersists(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")
	token := env.issuedEmailToken(t, u.ID)

	_, err := env.service.VerifyEmail(ctx, token)
	require.NoError(t, err)

	// A used token is indistinguishable from an absent one.
	_, err = env.service.VerifyEmail(ctx, token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	stored, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestVerifyEmail_ExpiredTokenStaysUnused(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")

	expired, err := env.emailTokens.Create(ctx, u.ID, uuid.New(), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = env.service.VerifyEmail(ctx, expired.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// Not consumed: still visible as unused.
	et, err := env.emailTokens.GetUnused(ctx, expired.Token)
	require.NoError(t, err)
	assert.False(t, et.Used)
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.service.VerifyEmail(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRequestPasswordReset_UniformForUnknownEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "alice", "a@x.com", "password1")

	// Known and unknown addresses must be indistinguishable to the caller.
	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)
	require.NoError(t, env.service.RequestPasswordReset(ctx, "nobody@x.com"))

	env.resetOTPs.mu.Lock()
	defer env.resetOTPs.mu.Unlock()
	assert.Len(t, env.resetOTPs.otps, 1)
}

func TestRequestPasswordReset_KeepsPriorOTPsValid(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "alice", "a@x.com", "password1")

	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)
	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)

	env.resetOTPs.mu.Lock()
	defer env.resetOTPs.mu.Unlock()
	require.Len(t, env.resetOTPs.otps, 2)
	for _, otp := range env.resetOTPs.otps {
		assert.False(t, otp.Used)
	}
}

func TestResetPasswordWithOTP_Success(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.newOTP = func() (string, error) { return "123456", nil }

	u := env.register(t, "alice", "a@x.com", "password1")

	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)
	assert.Equal(t, []string{"123456"}, env.emails.otps)

	before, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, env.service.ResetPasswordWithOTP(ctx, "a@x.com", "123456", "password2"))

	after, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(after.PasswordHash, "password2"))
	assert.False(t, VerifyPassword(after.PasswordHash, "password1"))
	assert.False(t, after.Profile.PasswordChangedAt.Before(before.Profile.PasswordChangedAt))

	// The code is single-use.
	err = env.service.ResetPasswordWithOTP(ctx, "a@x.com", "123456", "password3")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestResetPasswordWithOTP_UnknownAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.service.ResetPasswordWithOTP(context.Background(), "nobody@x.com", "123456", "password2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResetPasswordWithOTP_WrongCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.newOTP = func() (string, error) { return "123456", nil }
	env.register(t, "alice", "a@x.com", "password1")
	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)

	err := env.service.ResetPasswordWithOTP(ctx, "a@x.com", "654321", "password2")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestResetPasswordWithOTP_ExpiredCodeStaysUnused(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")

	expired, err := env.resetOTPs.Create(ctx, u.ID, "111111", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	err = env.service.ResetPasswordWithOTP(ctx, "a@x.com", "111111", "password2")
	assert.ErrorIs(t, err, ErrOTPExpired)

	// Expired but not consumed; a fresh code with the same value still works.
	stored, err := env.resetOTPs.LatestUnused(ctx, u.ID, expired.Code)
	require.NoError(t, err)
	assert.False(t, stored.Used)

	_, err = env.resetOTPs.Create(ctx, u.ID, "111111", time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	require.NoError(t, env.service.ResetPasswordWithOTP(ctx, "a@x.com", "111111", "password2"))
}

func TestConsumeResetOTP_LatestMatchingWins(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")

	first, err := env.resetOTPs.Create(ctx, u.ID, "222222", time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := env.resetOTPs.Create(ctx, u.ID, "222222", time.Now().Add(15*time.Minute))
	require.NoError(t, err)

	consumed, err := env.service.ConsumeResetOTP(ctx, u, "222222")
	require.NoError(t, err)
	assert.Equal(t, second.ID, consumed.ID)

	// The earlier duplicate is untouched and can still be consumed.
	remaining, err := env.resetOTPs.LatestUnused(ctx, u.ID, "222222")
	require.NoError(t, err)
	assert.Equal(t, first.ID, remaining.ID)
}

func TestConsumeResetOTP_ConcurrentDoubleSubmitHasOneWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")
	_, err := env.resetOTPs.Create(ctx, u.ID, "333333", time.Now().Add(15*time.Minute))
	require.NoError(t, err)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.ConsumeResetOTP(ctx, u, "333333")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, notFound int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		default:
			assert.ErrorIs(t, err, ErrOTPNotFound)
			notFound++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, notFound)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")

	err := env.service.ChangePassword(ctx, u, "wrong-password", "password2")
	assert.ErrorIs(t, err, ErrOldPasswordIncorrect)

	err = env.service.ChangePassword(ctx, u, "password1", "short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	require.NoError(t, env.service.ChangePassword(ctx, u, "password1", "password2"))

	stored, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(stored.PasswordHash, "password2"))
}

func TestLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.register(t, "alice", "a@x.com", "password1")

	// Not verified yet.
	_, err := env.service.Login(ctx, "alice", "password1")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	require.NoError(t, env.users.MarkEmailVerified(ctx, u.ID))

	_, err = env.service.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.service.Login(ctx, "nobody", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := env.service.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)

	claims, err := env.tokens.VerifyToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), claims.UserID)
	assert.False(t, claims.IssuedAt.IsZero())
}

// TestCredentialLifecycle_EndToEnd runs the full journey: register, verify,
// login, reset by OTP, and checks that the pre-reset token has gone stale
// while the reset actually changed the credential.
func TestCredentialLifecycle_EndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.newOTP = func() (string, error) { return "123456", nil }

	u := env.register(t, "alice", "a@x.com", "pw1secret")
	token := env.issuedEmailToken(t, u.ID)

	verified, err := env.service.VerifyEmail(ctx, token)
	require.NoError(t, err)
	require.True(t, verified.Active)

	issued, err := env.service.Login(ctx, "alice", "pw1secret")
	require.NoError(t, err)

	claims, err := env.tokens.VerifyToken(issued.AccessToken)
	require.NoError(t, err)

	_, err = env.validator.Validate(ctx, claims)
	require.NoError(t, err, "fresh token must pass validation")

	// Cross a second boundary so the issued-at of the old token is strictly
	// before the reset timestamp at claim granularity.
	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, env.service.RequestPasswordReset(ctx, "a@x.com"))
	env.emails.waitForSend(t)
	require.NoError(t, env.service.ResetPasswordWithOTP(ctx, "a@x.com", "123456", "pw2secret"))

	_, err = env.validator.Validate(ctx, claims)
	assert.ErrorIs(t, err, ErrStaleToken, "pre-reset token must be rejected")

	_, err = env.service.Login(ctx, "alice", "pw1secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	relogged, err := env.service.Login(ctx, "alice", "pw2secret")
	require.NoError(t, err)
	require.NotEmpty(t, relogged.AccessToken)
}
