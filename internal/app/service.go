package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/auth"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authpw"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authz"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/config"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/search"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/session"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

// dataStore is satisfied by *store.PostgresStore and by the in-memory store
// used in tests.
type dataStore interface {
	store.Queries
	WithTx(ctx context.Context, fn func(store.Queries) error) error
	Ping(ctx context.Context) error
}

type authorizer interface {
	Authorize(ctx context.Context, req authz.Request) authz.Decision
}

type userSearch interface {
	SearchUsers(ctx context.Context, q search.Query) ([]search.UserResult, error)
	IndexUser(user search.UserRecord)
}

// Session is the credential pair handed out on sign-in and refresh.
type Session struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Deps struct {
	Config     config.Config
	Store      dataStore
	Authorizer authorizer
	Sessions   session.Store
	Mailer     authpw.Mailer
	Search     userSearch
	Logger     *slog.Logger
	// Now and HashCost are overridden in tests.
	Now      func() time.Time
	HashCost int
}

// Service is the resource lifecycle manager. Every mutation follows the same
// shape: load the resource and its ownership chain, ask the authorizer, then
// write inside one transaction.
type Service struct {
	cfg      config.Config
	store    dataStore
	authz    authorizer
	tokens   *auth.Issuer
	sessions session.Store
	accounts *authpw.Service
	search   userSearch
	logger   *slog.Logger
	now      func() time.Time
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	accounts := authpw.NewService(deps.Store, deps.Mailer, logger).WithClock(now)
	if deps.HashCost > 0 {
		accounts.WithHashCost(deps.HashCost)
	}

	s := &Service{
		cfg:      deps.Config,
		store:    deps.Store,
		authz:    deps.Authorizer,
		tokens:   auth.NewIssuer(deps.Config.SecretKey, deps.Config.AccessTTL, deps.Config.RefreshTTL).WithClock(now),
		sessions: deps.Sessions,
		accounts: accounts,
		search:   deps.Search,
		logger:   logger,
		now:      now,
	}
	if s.search != nil {
		accounts.OnVerified(func(_ context.Context, user store.User) {
			s.search.IndexUser(search.RecordFromUser(user))
		})
	}
	return s
}

// Accounts exposes the signup, verification and reset workflow.
func (s *Service) Accounts() *authpw.Service {
	return s.accounts
}

// DevCodes reports whether one-time codes may be echoed in responses.
func (s *Service) DevCodes() bool {
	return s.cfg.ExposeDevCodes && !s.cfg.Production()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SignIn checks credentials and opens a refresh session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID)
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is revoked before the new one is registered.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.TokenRefresh)
	if err != nil {
		return Session{}, errs.Unauthorized("Invalid refresh token")
	}
	tokenHash := auth.HashToken(claims.ID)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, errs.Unauthorized("Invalid refresh token")
		}
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if userID != claims.Subject {
		return Session{}, errs.Unauthorized("Invalid refresh token")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errs.Unauthorized("Invalid refresh token")
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, userID)
}

// Signout revokes the refresh session behind refreshToken. Unknown or
// malformed tokens are ignored.
func (s *Service) Signout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := s.tokens.Verify(refreshToken, auth.TokenRefresh)
	if err != nil {
		return
	}
	if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(claims.ID)); err != nil {
		s.logger.WarnContext(ctx, "revoke refresh session on signout", "user_id", claims.Subject, "error", err)
	}
}

func (s *Service) issueSession(ctx context.Context, userID string) (Session, error) {
	access, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return Session{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh.ID), userID, refresh.ExpiresAt); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	return Session{
		UserID:           userID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Authenticate resolves a bearer access token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, errs.Unauthorized("Not authenticated")
	}
	claims, err := s.tokens.Verify(token, auth.TokenAccess)
	if err != nil {
		return store.User{}, errs.Unauthorized("Could not validate credentials")
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, errs.Unauthorized("Could not validate credentials")
		}
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// SearchUsers lists verified users other than the actor.
func (s *Service) SearchUsers(ctx context.Context, actor store.User, text string, limit int) ([]search.UserResult, error) {
	if limit < 1 || limit > search.MaxLimit {
		return nil, errs.Validation(fmt.Sprintf("limit must be between 1 and %d", search.MaxLimit))
	}
	results, err := s.search.SearchUsers(ctx, search.Query{Text: text, ExcludeUserID: actor.ID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return results, nil
}
