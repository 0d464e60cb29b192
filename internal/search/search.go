// Package search finds verified users for project membership and reviewer
// assignment. Meilisearch serves queries when it is configured and healthy;
// PostgreSQL answers otherwise.
package search

import "context"

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// UserResult is a single search hit returned to the caller.
type UserResult struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Query describes a search request.
type Query struct {
	Text          string
	ExcludeUserID string
	Limit         int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	if q.Limit > MaxLimit {
		return MaxLimit
	}
	return q.Limit
}

// UserRecord is the data we index for a user.
type UserRecord struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Searcher can execute a user search.
type Searcher interface {
	SearchUsers(ctx context.Context, q Query) ([]UserResult, error)
	Healthy() bool
}

// Index is a Searcher that also accepts user records.
type Index interface {
	Searcher
	IndexUsers(users []UserRecord) error
}
