// Package authpw provides email/password authentication with email
// verification and password reset through six digit one-time codes. Codes
// are stored on the user row together with their request time.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SetVerificationCode(ctx context.Context, userID, code string, requestedAt time.Time) error
	MarkEmailVerified(ctx context.Context, userID, code string, at time.Time) error
	SetPasswordResetCode(ctx context.Context, userID, code string, requestedAt time.Time) error
	ResetPassword(ctx context.Context, userID, code, passwordHash string, at time.Time) error
}

// Mailer delivers one-time codes. Implementations report success; a failed
// delivery never fails the request because the code is already stored.
type Mailer interface {
	SendVerificationCode(to, name, code string) bool
	SendPasswordResetCode(to, name, code string) bool
}

const (
	msgInvalidCredentials = "Invalid email or password"
	msgEmailNotVerified   = "Email not verified"
	msgInvalidVerify      = "Invalid verification code"
	msgExpiredVerify      = "Verification code has expired"
	msgInvalidReset       = "Invalid or expired reset code"
	maxNameLength         = 255
)

// Service provides email/password authentication
type Service struct {
	store      UserStore
	mailer     Mailer
	logger     *slog.Logger
	now        func() time.Time
	newCode    func() (string, error)
	hashCost   int
	onVerified func(context.Context, store.User)
}

// NewService creates a new auth service. mailer may be nil, in which case
// codes are stored but not delivered.
func NewService(userStore UserStore, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    userStore,
		mailer:   mailer,
		logger:   logger,
		now:      time.Now,
		newCode:  GenerateCode,
		hashCost: bcrypt.DefaultCost,
	}
}

// WithClock overrides the time source used for code issue and expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

// OnVerified registers a callback run after an email is verified.
func (s *Service) OnVerified(fn func(context.Context, store.User)) {
	s.onVerified = fn
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string
	Name     string
	Password string
}

// SignUp creates an unverified account. The email is normalized before the
// uniqueness check and before storage.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := NormalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || name == "" || req.Password == "" {
		return store.User{}, errs.InvalidInput("Email, name and password are required")
	}
	if !ValidEmail(email) {
		return store.User{}, errs.InvalidInput("Invalid email address")
	}
	if len([]rune(name)) > maxNameLength {
		return store.User{}, errs.InvalidInput("Name must be at most 255 characters")
	}
	if err := ValidatePassword(req.Password); err != nil {
		return store.User{}, err
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Verified() {
			return store.User{}, errs.Conflict("Email already registered")
		}
		return store.User{}, errs.Conflict("Email not verified")
	case !errors.Is(err, store.ErrNotFound):
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := store.User{
		ID:           util.NewID(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, errs.Conflict("Email already registered")
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SendVerification issues a fresh verification code, replacing any previous
// one, and hands it to the mailer. The code is returned for callers that
// expose it outside production.
func (s *Service) SendVerification(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", errs.InvalidInput("Missing email")
	}
	user, err := s.lookup(ctx, email)
	if err != nil {
		return "", err
	}
	if user.Verified() {
		return "", errs.InvalidInput("Email already verified")
	}

	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	if err := s.store.SetVerificationCode(ctx, user.ID, code, s.now().UTC()); err != nil {
		return "", fmt.Errorf("store verification code: %w", err)
	}
	s.deliver("verification", user.Email, func(m Mailer) bool {
		return m.SendVerificationCode(user.Email, user.Name, code)
	})
	return code, nil
}

// VerifyEmail consumes a verification code. Verifying an already verified
// address succeeds without touching the record.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (store.User, error) {
	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return store.User{}, errs.InvalidInput("Missing email or code")
	}
	user, err := s.lookup(ctx, email)
	if err != nil {
		return store.User{}, err
	}
	if user.Verified() {
		return user, nil
	}

	now := s.now().UTC()
	match, expired := codeMatches(user.VerificationCode, user.VerificationRequestedAt, code, now)
	if !match {
		return store.User{}, errs.Unauthorized(msgInvalidVerify)
	}
	if expired {
		return store.User{}, errs.Unauthorized(msgExpiredVerify)
	}
	if err := s.store.MarkEmailVerified(ctx, user.ID, code, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, errs.Unauthorized(msgInvalidVerify)
		}
		return store.User{}, fmt.Errorf("mark email verified: %w", err)
	}

	user.EmailVerifiedAt = &now
	user.VerificationCode = nil
	user.VerificationRequestedAt = nil
	if s.onVerified != nil {
		s.onVerified(ctx, user)
	}
	return user, nil
}

// SignIn checks the password first and the verification state second, so an
// unverified account only learns it is unverified with the right password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, errs.InvalidInput("Missing email or password")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, errs.Unauthorized(msgInvalidCredentials)
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, errs.Unauthorized(msgInvalidCredentials)
	}
	if !user.Verified() {
		return store.User{}, errs.Unauthorized(msgEmailNotVerified)
	}
	return user, nil
}

// RequestPasswordReset issues a reset code for a verified account. Unknown
// and unverified addresses return an empty code and no error so callers
// answer identically either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", errs.InvalidInput("Missing email")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Don't reveal if email exists
			return "", nil
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !user.Verified() {
		return "", nil
	}

	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	if err := s.store.SetPasswordResetCode(ctx, user.ID, code, s.now().UTC()); err != nil {
		return "", fmt.Errorf("store reset code: %w", err)
	}
	s.deliver("password reset", user.Email, func(m Mailer) bool {
		return m.SendPasswordResetCode(user.Email, user.Name, code)
	})
	return code, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Email    string
	Code     string
	Password string
}

// ResetPassword consumes a reset code and replaces the password hash. Every
// failure to match, including an unknown address, reports the same error.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	email := NormalizeEmail(req.Email)
	code := strings.TrimSpace(req.Code)
	if email == "" || code == "" || req.Password == "" {
		return errs.InvalidInput("Missing email, code or password")
	}
	if err := ValidatePassword(req.Password); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Unauthorized(msgInvalidReset)
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	now := s.now().UTC()
	match, expired := codeMatches(user.ResetCode, user.ResetRequestedAt, code, now)
	if !match || expired {
		return errs.Unauthorized(msgInvalidReset)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.ResetPassword(ctx, user.ID, code, string(hash), now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Unauthorized(msgInvalidReset)
		}
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, email string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, errs.NotFound("User not found")
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// deliver sends in the background; the request does not wait on SMTP.
func (s *Service) deliver(kind, to string, send func(Mailer) bool) {
	if s.mailer == nil {
		s.logger.Warn("email delivery skipped: no mailer configured", "kind", kind, "to", to)
		return
	}
	go func() {
		if !send(s.mailer) {
			s.logger.Warn("email delivery failed", "kind", kind, "to", to)
		}
	}()
}
