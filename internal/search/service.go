package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries the index first and falls back to Postgres.
type Service struct {
	index    Index
	fallback *Postgres
	logger   *slog.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is not
// configured.
func NewService(index Index, fallback *Postgres, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, fallback: fallback, logger: logger.With("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// SearchUsers tries the index if healthy, otherwise falls back to Postgres.
func (s *Service) SearchUsers(ctx context.Context, q Query) ([]UserResult, error) {
	if s.indexReady() {
		results, err := s.index.SearchUsers(ctx, q)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("index search failed, falling back to postgres", "error", err)
	}
	return s.fallback.SearchUsers(ctx, q)
}

// IndexUser pushes a user to the index (fire-and-forget).
func (s *Service) IndexUser(user UserRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexUsers([]UserRecord{user}); err != nil {
			s.logger.Warn("index user", "user_id", user.ID, "error", err)
		}
	}()
}

// ReindexAll reads all verified users from Postgres and pushes them to the
// index.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexReady() {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexUsers(records); err != nil {
		s.logger.Error("reindex users", "count", len(records), "error", err)
		return
	}
	s.logger.Info("reindexed users", "count", len(records))
}
