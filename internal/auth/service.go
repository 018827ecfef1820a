package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/staffdesk/staffdesk/internal/logging"
	"github.com/staffdesk/staffdesk/internal/user"
)

var (
	ErrUsernameRequired     = errors.New("username is required")
	ErrEmailRequired        = errors.New("email is required")
	ErrPasswordRequired     = errors.New("password is required")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrInvalidEmailFormat   = errors.New("invalid email format")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrEmailNotVerified     = errors.New("email not verified, please check your inbox")
	ErrOldPasswordIncorrect = errors.New("old password is incorrect")

	ErrTokenNotFound = errors.New("verification token not found")
	ErrTokenExpired  = errors.New("verification token has expired")
	ErrOTPNotFound   = errors.New("invalid OTP")
	ErrOTPExpired    = errors.New("OTP expired")
)

// AuthToken is the access token handed out on login.
type AuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Service implements the credential lifecycle: registration, email
// verification, OTP-based password reset and authenticated password change.
// Every password mutation advances the account's password_changed_at, which
// the Validator reads on each authenticated request.
type Service struct {
	users        UserRepository
	emailTokens  EmailTokenRepository
	resetOTPs    ResetOTPRepository
	tokenService TokenService
	emailService EmailService
	logger       *logging.Logger

	accessTokenDuration time.Duration
	emailTokenTTL       time.Duration
	resetOTPTTL         time.Duration

	// Hooks for deterministic tests.
	now    func() time.Time
	newOTP func() (string, error)
}

func NewService(
	users UserRepository,
	emailTokens EmailTokenRepository,
	resetOTPs ResetOTPRepository,
	tokenService TokenService,
	emailService EmailService,
	logger *logging.Logger,
	accessTokenDuration time.Duration,
	emailTokenTTL time.Duration,
	resetOTPTTL time.Duration,
) *Service {
	return &Service{
		users:               users,
		emailTokens:         emailTokens,
		resetOTPs:           resetOTPs,
		tokenService:        tokenService,
		emailService:        emailService,
		logger:              logger,
		accessTokenDuration: accessTokenDuration,
		emailTokenTTL:       emailTokenTTL,
		resetOTPTTL:         resetOTPTTL,
		now:                 time.Now,
		newOTP:              GenerateOTP,
	}
}

// Register creates an inactive account with its credential profile, issues an
// email verification token and mails it. A mail transport failure never rolls
// back registration; the account simply stays pending verification.
func (s *Service) Register(ctx context.Context, username, email, password string) (*user.User, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if email == "" {
		return nil, ErrEmailRequired
	}
	if len(email) > 254 {
		return nil, ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmailFormat
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, username, email, passwordHash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicate) {
			return nil, user.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.IssueEmailToken(ctx, newUser)
	if err != nil {
		// Account already exists; a verification mail can be re-requested.
		s.logger.Warn("failed to issue verification token", "email", email, "error", err)
		return newUser, nil
	}

	s.sendAsync(func(ctx context.Context) error {
		return s.emailService.SendVerificationEmail(ctx, newUser.Email, newUser.Username, token.Token)
	}, "verification email", newUser.Email)

	return newUser, nil
}

// IssueEmailToken creates a 128-bit random verification token valid for the
// configured window (24h by default).
func (s *Service) IssueEmailToken(ctx context.Context, u *user.User) (*EmailToken, error) {
	token, err := s.emailTokens.Create(ctx, u.ID, uuid.New(), s.now().Add(s.emailTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to issue email token: %w", err)
	}
	return token, nil
}

// ConsumeEmailToken validates and consumes a verification token, returning the
// owning account. Absent and already-used tokens are both reported as
// ErrTokenNotFound so replays cannot be distinguished from bad guesses.
// Expired tokens are left unused so a future re-send flow needs no new state.
func (s *Service) ConsumeEmailToken(ctx context.Context, token uuid.UUID) (*user.User, error) {
	et, err := s.emailTokens.GetUnused(ctx, token)
	if err != nil {
		return nil, err
	}

	if et.Expired(s.now()) {
		return nil, ErrTokenExpired
	}

	if err := s.emailTokens.Consume(ctx, et.ID); err != nil {
		// Lost the race against a concurrent consumer.
		return nil, err
	}

	owner, err := s.users.GetByID(ctx, et.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token owner: %w", err)
	}
	return owner, nil
}

// VerifyEmail consumes the token and activates the account. The profile's
// password_changed_at is not touched: verifying an email is not a credential
// change.
func (s *Service) VerifyEmail(ctx context.Context, token uuid.UUID) (*user.User, error) {
	owner, err := s.ConsumeEmailToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.users.MarkEmailVerified(ctx, owner.ID); err != nil {
		return nil, fmt.Errorf("failed to activate account: %w", err)
	}

	owner.Active = true
	if owner.Profile != nil {
		owner.Profile.EmailVerified = true
	}
	return owner, nil
}

// Login checks the credentials and returns a fresh access token carrying the
// issue time. Unknown users and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*AuthToken, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !VerifyPassword(existing.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if !existing.Active {
		return nil, ErrEmailNotVerified
	}

	accessToken, err := s.tokenService.CreateToken(existing.ID, existing.Username, s.accessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &AuthToken{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTokenDuration.Seconds()),
	}, nil
}

// IssueResetOTP generates a random 6-digit code valid for the configured
// window (15min by default). Earlier unused codes stay valid; consumption
// picks the newest match.
func (s *Service) IssueResetOTP(ctx context.Context, u *user.User) (*ResetOTP, error) {
	code, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	otp, err := s.resetOTPs.Create(ctx, u.ID, code, s.now().Add(s.resetOTPTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to issue reset OTP: %w", err)
	}
	return otp, nil
}

// ConsumeResetOTP validates and consumes the most recently created unused OTP
// of the account matching the submitted code. Expired codes are left unused.
func (s *Service) ConsumeResetOTP(ctx context.Context, u *user.User, code string) (*ResetOTP, error) {
	otp, err := s.resetOTPs.LatestUnused(ctx, u.ID, code)
	if err != nil {
		return nil, err
	}

	if otp.Expired(s.now()) {
		return nil, ErrOTPExpired
	}

	if err := s.resetOTPs.Consume(ctx, otp.ID); err != nil {
		return nil, err
	}

	otp.Used = true
	return otp, nil
}

// RequestPasswordReset issues and mails an OTP for the account behind the
// email. It always succeeds from the caller's point of view: an unknown email
// produces no observable difference, so the endpoint cannot be used to probe
// which addresses are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for password reset", "error", err)
		}
		return nil
	}

	otp, err := s.IssueResetOTP(ctx, existing)
	if err != nil {
		s.logger.Warn("failed to issue reset OTP", "error", err)
		return nil
	}

	s.sendAsync(func(ctx context.Context) error {
		return s.emailService.SendResetOTP(ctx, existing.Email, existing.Username, otp.Code)
	}, "reset OTP email", existing.Email)

	return nil
}

// ResetPasswordWithOTP consumes a valid OTP and sets the new password,
// advancing password_changed_at and thereby invalidating every token issued
// before this moment.
func (s *Service) ResetPasswordWithOTP(ctx context.Context, email, code, newPassword string) error {
	if newPassword == "" {
		return ErrPasswordRequired
	}
	if len(newPassword) < 8 {
		return ErrPasswordTooShort
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Unlike RequestPasswordReset this path does reveal account
			// absence; kept to match the established API contract.
			return ErrInvalidCredentials
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	if _, err := s.ConsumeResetOTP(ctx, existing, code); err != nil {
		return err
	}

	return s.setPassword(ctx, existing.ID, newPassword)
}

// ChangePassword verifies the old password and sets the new one. The caller
// must already have passed token validation.
func (s *Service) ChangePassword(ctx context.Context, u *user.User, oldPassword, newPassword string) error {
	if newPassword == "" {
		return ErrPasswordRequired
	}
	if len(newPassword) < 8 {
		return ErrPasswordTooShort
	}

	if !VerifyPassword(u.PasswordHash, oldPassword) {
		return ErrOldPasswordIncorrect
	}

	return s.setPassword(ctx, u.ID, newPassword)
}

// setPassword hashes and stores the password; the repository advances
// password_changed_at in the same transaction.
func (s *Service) setPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// sendAsync runs a mail send in a goroutine with a fresh context so it
// outlives the request. Failures are logged and swallowed.
func (s *Service) sendAsync(send func(ctx context.Context) error, kind, email string) {
	go func() {
		if err := send(context.Background()); err != nil {
			s.logger.Warn("failed to send "+kind, "email", email, "error", err)
		}
	}()
}
