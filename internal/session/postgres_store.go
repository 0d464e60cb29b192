package session

import (
	"context"
	"errors"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

type sessionTable interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// PostgresStore keeps refresh sessions in the refresh_sessions table. It is
// used when no Redis URL is configured.
type PostgresStore struct {
	table sessionTable
}

func NewPostgresStore(table sessionTable) *PostgresStore {
	return &PostgresStore{table: table}
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return s.table.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.table.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	return userID, err
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.table.RevokeRefreshSession(ctx, tokenHash)
}
