package search

import (
	"context"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

type userSource interface {
	SearchVerifiedUsers(ctx context.Context, query, excludeUserID string, limit int) ([]store.User, error)
	ListVerifiedUsers(ctx context.Context) ([]store.User, error)
}

// Postgres implements Searcher with an ILIKE query over verified users.
type Postgres struct {
	users userSource
}

func NewPostgres(users userSource) *Postgres {
	return &Postgres{users: users}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) SearchUsers(ctx context.Context, q Query) ([]UserResult, error) {
	users, err := p.users.SearchVerifiedUsers(ctx, q.Text, q.ExcludeUserID, q.limit())
	if err != nil {
		return nil, err
	}
	results := make([]UserResult, 0, len(users))
	for _, u := range users {
		results = append(results, UserResult{ID: u.ID, Email: u.Email, Name: u.Name})
	}
	return results, nil
}

// LoadAllRecords returns every verified user for a full reindex.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]UserRecord, error) {
	users, err := p.users.ListVerifiedUsers(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, RecordFromUser(u))
	}
	return records, nil
}

// RecordFromUser converts a stored user into its index document.
func RecordFromUser(u store.User) UserRecord {
	return UserRecord{ID: u.ID, Email: u.Email, Name: u.Name, Verified: u.Verified()}
}
