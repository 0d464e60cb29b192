package authpw

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	mu         sync.Mutex
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emailIndex[user.Email]; ok {
		return store.ErrConflict
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) update(userID string, fn func(*store.User) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || !fn(&user) {
		return store.ErrNotFound
	}
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) SetVerificationCode(ctx context.Context, userID, code string, requestedAt time.Time) error {
	return m.update(userID, func(u *store.User) bool {
		u.VerificationCode = &code
		u.VerificationRequestedAt = &requestedAt
		return true
	})
}

func (m *mockUserStore) MarkEmailVerified(ctx context.Context, userID, code string, at time.Time) error {
	return m.update(userID, func(u *store.User) bool {
		if u.VerificationCode == nil || *u.VerificationCode != code {
			return false
		}
		u.EmailVerifiedAt = &at
		u.VerificationCode = nil
		u.VerificationRequestedAt = nil
		return true
	})
}

func (m *mockUserStore) SetPasswordResetCode(ctx context.Context, userID, code string, requestedAt time.Time) error {
	return m.update(userID, func(u *store.User) bool {
		u.ResetCode = &code
		u.ResetRequestedAt = &requestedAt
		return true
	})
}

func (m *mockUserStore) ResetPassword(ctx context.Context, userID, code, passwordHash string, at time.Time) error {
	return m.update(userID, func(u *store.User) bool {
		if u.ResetCode == nil || *u.ResetCode != code {
			return false
		}
		u.PasswordHash = passwordHash
		u.ResetCode = nil
		u.ResetRequestedAt = nil
		u.PasswordResetAt = &at
		return true
	})
}

type sentMail struct {
	kind string
	to   string
	code string
}

type fakeMailer struct {
	sent chan sentMail
	ok   bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{sent: make(chan sentMail, 8), ok: true}
}

func (f *fakeMailer) SendVerificationCode(to, name, code string) bool {
	f.sent <- sentMail{kind: "verify", to: to, code: code}
	return f.ok
}

func (f *fakeMailer) SendPasswordResetCode(to, name, code string) bool {
	f.sent <- sentMail{kind: "reset", to: to, code: code}
	return f.ok
}

func (f *fakeMailer) next(t *testing.T) sentMail {
	t.Helper()
	select {
	case mail := <-f.sent:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for email")
		return sentMail{}
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const strongPassword = "Aa1!aaaa"

func newTestService() (*Service, *mockUserStore, *fakeMailer, *testClock) {
	users := newMockUserStore()
	mailer := newFakeMailer()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(users, mailer, nil).WithClock(clock.Now).WithHashCost(bcrypt.MinCost)
	return svc, users, mailer, clock
}

func assertKind(t *testing.T, err error, kind errs.Kind, message string) {
	t.Helper()
	domainErr, ok := errs.As(err)
	if !ok {
		t.Fatalf("error = %v, want domain error %s", err, kind)
	}
	if domainErr.Kind != kind {
		t.Fatalf("error kind = %s (%s), want %s", domainErr.Kind, domainErr.Message, kind)
	}
	if message != "" && domainErr.Message != message {
		t.Fatalf("error message = %q, want %q", domainErr.Message, message)
	}
}

// verifiedUser signs up and verifies an account through the public flow.
func verifiedUser(t *testing.T, svc *Service, mailer *fakeMailer, email string) store.User {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: email, Name: "User", Password: strongPassword}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	code, err := svc.SendVerification(ctx, email)
	if err != nil {
		t.Fatalf("SendVerification() error = %v", err)
	}
	mailer.next(t)
	user, err := svc.VerifyEmail(ctx, email, code)
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	return user
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes email and hashes password", func(t *testing.T) {
		svc, users, _, _ := newTestService()
		user, err := svc.SignUp(ctx, SignUpRequest{Email: "  Test@Example.COM ", Name: " Test User ", Password: strongPassword})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if user.Email != "test@example.com" || user.Name != "Test User" {
			t.Fatalf("unexpected user: %+v", user)
		}
		if user.PasswordHash == strongPassword || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(strongPassword)) != nil {
			t.Fatal("password not hashed correctly")
		}
		if user.Verified() {
			t.Fatal("new account must start unverified")
		}
		if _, err := users.GetUserByEmail(ctx, "test@example.com"); err != nil {
			t.Fatalf("user not stored under normalized email: %v", err)
		}
	})

	t.Run("duplicate unverified email", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword}); err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "A@X.com", Name: "A", Password: strongPassword})
		assertKind(t, err, errs.KindConflict, "Email not verified")
	})

	t.Run("duplicate verified email", func(t *testing.T) {
		svc, _, mailer, _ := newTestService()
		verifiedUser(t, svc, mailer, "a@x.com")
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
		assertKind(t, err, errs.KindConflict, "Email already registered")
	})

	t.Run("weak password reports every violation", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: "short"})
		assertKind(t, err, errs.KindInvalidInput, "Password must be at least 8 characters long")
		domainErr, _ := errs.As(err)
		details, ok := domainErr.Details.(map[string]any)
		if !ok {
			t.Fatalf("details = %#v", domainErr.Details)
		}
		if got := len(details["violations"].([]string)); got != 4 {
			t.Fatalf("violations = %v, want 4", details["violations"])
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "not-an-email", Name: "A", Password: strongPassword})
		assertKind(t, err, errs.KindInvalidInput, "Invalid email address")
	})

	t.Run("missing fields", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: strongPassword})
		assertKind(t, err, errs.KindInvalidInput, "")
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("correct code verifies and clears", func(t *testing.T) {
		svc, users, mailer, _ := newTestService()
		user := verifiedUser(t, svc, mailer, "a@x.com")
		if !user.Verified() {
			t.Fatal("user should be verified")
		}
		stored, _ := users.GetUserByEmail(ctx, "a@x.com")
		if stored.VerificationCode != nil || stored.VerificationRequestedAt != nil {
			t.Fatal("code pair must be cleared after verification")
		}
	})

	t.Run("mail carries stored code", func(t *testing.T) {
		svc, users, mailer, _ := newTestService()
		svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
		code, err := svc.SendVerification(ctx, "A@x.com")
		if err != nil {
			t.Fatalf("SendVerification() error = %v", err)
		}
		mail := mailer.next(t)
		if mail.kind != "verify" || mail.to != "a@x.com" || mail.code != code {
			t.Fatalf("unexpected mail %+v for code %s", mail, code)
		}
		stored, _ := users.GetUserByEmail(ctx, "a@x.com")
		if stored.VerificationCode == nil || *stored.VerificationCode != code || stored.VerificationRequestedAt == nil {
			t.Fatal("code and timestamp must be stored together")
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		svc, _, mailer, _ := newTestService()
		svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
		code, _ := svc.SendVerification(ctx, "a@x.com")
		mailer.next(t)
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		_, err := svc.VerifyEmail(ctx, "a@x.com", wrong)
		assertKind(t, err, errs.KindUnauthorized, "Invalid verification code")
	})

	t.Run("expired code", func(t *testing.T) {
		svc, _, mailer, clock := newTestService()
		svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
		code, _ := svc.SendVerification(ctx, "a@x.com")
		mailer.next(t)
		clock.Advance(CodeTTL + time.Second)
		_, err := svc.VerifyEmail(ctx, "a@x.com", code)
		assertKind(t, err, errs.KindUnauthorized, "Verification code has expired")
	})

	t.Run("no code requested", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
		_, err := svc.VerifyEmail(ctx, "a@x.com", "123456")
		assertKind(t, err, errs.KindUnauthorized, "Invalid verification code")
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.VerifyEmail(ctx, "ghost@x.com", "123456")
		assertKind(t, err, errs.KindNotFound, "User not found")
		_, err = svc.SendVerification(ctx, "ghost@x.com")
		assertKind(t, err, errs.KindNotFound, "User not found")
	})

	t.Run("missing fields", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.VerifyEmail(ctx, "", "123456")
		assertKind(t, err, errs.KindInvalidInput, "Missing email or code")
		_, err = svc.SendVerification(ctx, " ")
		assertKind(t, err, errs.KindInvalidInput, "Missing email")
	})

	t.Run("callback sees verified user", func(t *testing.T) {
		svc, _, mailer, _ := newTestService()
		var got store.User
		svc.OnVerified(func(ctx context.Context, user store.User) { got = user })
		verifiedUser(t, svc, mailer, "a@x.com")
		if got.Email != "a@x.com" || !got.Verified() {
			t.Fatalf("OnVerified got %+v", got)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _, mailer, _ := newTestService()
	verifiedUser(t, svc, mailer, "a@x.com")
	svc.SignUp(ctx, SignUpRequest{Email: "pending@x.com", Name: "P", Password: strongPassword})

	t.Run("mixed case email", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "A@X.com", strongPassword)
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if user.Email != "a@x.com" {
			t.Fatalf("SignIn() user = %+v", user)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "a@x.com", "Wrong1!pass")
		assertKind(t, err, errs.KindUnauthorized, "Invalid email or password")
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "ghost@x.com", strongPassword)
		assertKind(t, err, errs.KindUnauthorized, "Invalid email or password")
	})

	t.Run("unverified email", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "pending@x.com", strongPassword)
		assertKind(t, err, errs.KindUnauthorized, "Email not verified")
	})

	t.Run("unverified email with wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, "pending@x.com", "Wrong1!pass")
		assertKind(t, err, errs.KindUnauthorized, "Invalid email or password")
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	const newPassword = "Bb2@bbbbb"

	t.Run("unknown email gives empty code and no error", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		code, err := svc.RequestPasswordReset(ctx, "ghost@x.com")
		if err != nil || code != "" {
			t.Fatalf("RequestPasswordReset() = %q, %v", code, err)
		}
	})

	t.Run("unverified email gives empty code", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		svc.SignUp(ctx, SignUpRequest{Email: "pending@x.com", Name: "P", Password: strongPassword})
		code, err := svc.RequestPasswordReset(ctx, "pending@x.com")
		if err != nil || code != "" {
			t.Fatalf("RequestPasswordReset() = %q, %v", code, err)
		}
	})

	t.Run("successful reset", func(t *testing.T) {
		svc, users, mailer, _ := newTestService()
		verifiedUser(t, svc, mailer, "a@x.com")
		code, err := svc.RequestPasswordReset(ctx, "A@x.com")
		if err != nil || code == "" {
			t.Fatalf("RequestPasswordReset() = %q, %v", code, err)
		}
		if mail := mailer.next(t); mail.kind != "reset" || mail.code != code {
			t.Fatalf("unexpected mail %+v", mail)
		}
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@x.com", Code: code, Password: newPassword}); err != nil {
			t.Fatalf("ResetPassword() error = %v", err)
		}
		if _, err := svc.SignIn(ctx, "a@x.com", newPassword); err != nil {
			t.Fatalf("SignIn(new password) error = %v", err)
		}
		if _, err := svc.SignIn(ctx, "a@x.com", strongPassword); err == nil {
			t.Fatal("old password must stop working")
		}
		stored, _ := users.GetUserByEmail(ctx, "a@x.com")
		if stored.ResetCode != nil || stored.ResetRequestedAt != nil || stored.PasswordResetAt == nil {
			t.Fatalf("reset state not finalized: %+v", stored)
		}

		err = svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@x.com", Code: code, Password: newPassword})
		assertKind(t, err, errs.KindUnauthorized, "Invalid or expired reset code")
	})

	t.Run("code older than fifteen minutes", func(t *testing.T) {
		svc, _, mailer, clock := newTestService()
		verifiedUser(t, svc, mailer, "a@x.com")
		code, _ := svc.RequestPasswordReset(ctx, "a@x.com")
		mailer.next(t)
		clock.Advance(CodeTTL + time.Minute)
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@x.com", Code: code, Password: newPassword})
		assertKind(t, err, errs.KindUnauthorized, "Invalid or expired reset code")
	})

	t.Run("code at the edge of the window", func(t *testing.T) {
		svc, _, mailer, clock := newTestService()
		verifiedUser(t, svc, mailer, "a@x.com")
		code, _ := svc.RequestPasswordReset(ctx, "a@x.com")
		mailer.next(t)
		clock.Advance(CodeTTL)
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@x.com", Code: code, Password: newPassword}); err != nil {
			t.Fatalf("ResetPassword() at exactly CodeTTL error = %v", err)
		}
	})

	t.Run("weak new password", func(t *testing.T) {
		svc, _, mailer, _ := newTestService()
		verifiedUser(t, svc, mailer, "a@x.com")
		code, _ := svc.RequestPasswordReset(ctx, "a@x.com")
		mailer.next(t)
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@x.com", Code: code, Password: "alllowercase1!"})
		assertKind(t, err, errs.KindInvalidInput, "Password must contain at least one uppercase letter")
	})

	t.Run("unknown email is indistinguishable from a bad code", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "ghost@x.com", Code: "123456", Password: newPassword})
		assertKind(t, err, errs.KindUnauthorized, "Invalid or expired reset code")
	})
}

func TestDeliveryFailureDoesNotFailRequest(t *testing.T) {
	svc, _, mailer, _ := newTestService()
	mailer.ok = false
	ctx := context.Background()
	svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Name: "A", Password: strongPassword})
	if _, err := svc.SendVerification(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendVerification() error = %v", err)
	}
	mailer.next(t)
}
